// Command coordinator runs the Utility Query Coordinator: the single
// process that issues queries and collects results (id -1).
//
// Usage:
//
//	coordinator [-variant byzantine|crashtolerant|hft] [-batch <file>] \
//	    -1 <my-ip:port> <utility-private-key-file> <meter-ip-map-file> <public-key-folder>
//
// Real meter-to-meter and meter-to-utility transport is out of scope
// (see network.Network's doc comment); without -batch, coordinator only
// validates its configuration and serves /metrics on <my-ip:port> until
// interrupted. With -batch, it drives an in-process simulated cluster
// end to end and prints each query's result, the way SimulationMain.cpp
// does in the C++ original.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/cmd/internal/cliutil"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/errs"
	"go.dedis.ch/pddm/fixedpoint"
	"go.dedis.ch/pddm/meter"
	"go.dedis.ch/pddm/metrics"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/timer"
	"go.dedis.ch/pddm/utility"
	"go.dedis.ch/pddm/wire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(args []string) error {
	variantName, args, _, err := cliutil.ExtractFlag(args, "-variant")
	if err != nil {
		return err
	}
	if variantName == "" {
		variantName = "crashtolerant"
	}
	batchPath, args, batch, err := cliutil.ExtractFlag(args, "-batch")
	if err != nil {
		return err
	}

	if len(args) != 5 {
		return errors.Wrapf(errs.ConfigurationError,
			"usage: coordinator [-variant v] [-batch file] -1 <my-ip:port> <utility-private-key-file> <meter-ip-map-file> <public-key-folder>, got %d positional args", len(args))
	}
	if args[0] != "-1" {
		return errors.Wrapf(errs.ConfigurationError, "coordinator mode requires id -1, got %q", args[0])
	}
	myAddr := args[1]
	privKeyFile := args[2]
	ipMapFile := args[3]
	pubKeyDir := args[4]

	variant, err := cliutil.ParseVariant(variantName)
	if err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}
	peers, err := cliutil.LoadIPMap(ipMapFile)
	if err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}
	cfg, err := config.New(len(peers), variant)
	if err != nil {
		return err
	}

	privKey, err := crypto.LoadPrivateKeyFile(privKeyFile)
	if err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}
	keyring := crypto.NewFileKeyRing(pubKeyDir)
	crypter := crypto.NewRSACapability(config.UtilityID, privKey, keyring)

	meterIDs := make([]int, len(peers))
	for i, p := range peers {
		meterIDs[i] = p.ID
	}

	log.Lvl1("coordinator: N =", cfg.N, "T =", cfg.T, "variant =", cfg.Variant)

	if batch {
		return runBatch(cfg, crypter, keyring, pubKeyDir, meterIDs, batchPath)
	}
	return serveOnly(myAddr)
}

// serveOnly is coordinator's standalone mode absent -batch: it has
// nothing to drive (no physical network to listen on), so it just
// exposes /metrics and waits to be told to stop.
func serveOnly(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Lvl1("coordinator: serving metrics on", addr, "- real meter transport is out of scope, nothing else to do")

	select {
	case <-ctx.Done():
		log.Lvl1("coordinator: shutting down")
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	}
}

// runBatch builds an in-process simulated cluster and drives a batch of
// queries to completion, the supplemented SimulationMain CLI mode. A
// batch run is a single local trust domain, so unlike the live CLI
// modes it also loads every meter's private key out of pubKeyDir
// (alongside its pubkey_<id>.der), rather than requiring a separate
// private-key-folder per meter process.
func runBatch(cfg *config.Config, utilityCrypter crypto.Capability, keyring crypto.KeyRing, pubKeyDir string, meterIDs []int, batchPath string) error {
	queries, err := cliutil.LoadQueryBatch(batchPath)
	if err != nil {
		return err
	}

	net := network.NewSimNetwork()
	sim := timer.NewSimService()

	coord := utility.NewCoordinator(cfg, net, sim, utilityCrypter, meterIDs)
	net.Register(config.UtilityID, coord)

	results := make(map[int64]*wire.AggregationMessage)
	pending := len(queries)
	coord.OnResult = func(queryNumber int64, result *wire.AggregationMessage) {
		results[queryNumber] = result
		pending--
	}

	reading := fixedpoint.Vector{fixedpoint.FromFloat(1)}
	for _, id := range meterIDs {
		priv, err := crypto.LoadPrivateKey(pubKeyDir, id)
		if err != nil {
			return errors.Wrap(errs.ConfigurationError, err.Error())
		}
		crypter := crypto.NewRSACapability(id, priv, keyring)
		m := meter.NewMeter(cfg, id, net, sim, crypter, meter.StaticSource{Reading: reading})
		net.Register(id, m)
	}

	if err := coord.StartQueries(queries); err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}

	const maxTicks = 100000
	for tick := 0; pending > 0 && tick < maxTicks; tick++ {
		for net.Pump() > 0 {
		}
		sim.Advance(cfg.RoundTimeout)
	}
	for net.Pump() > 0 {
	}

	for _, q := range queries {
		r := results[q.QueryNumber]
		if r == nil {
			fmt.Printf("query %d: failed\n", q.QueryNumber)
			continue
		}
		fmt.Printf("query %d: body=%v num_contributors=%d\n", q.QueryNumber, r.Body, r.NumContributors)
	}
	return nil
}
