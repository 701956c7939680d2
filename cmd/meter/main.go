// Command meter runs one per-meter protocol actor.
//
// Usage:
//
//	meter [-variant byzantine|crashtolerant|hft] <id> <utility-ip:port> \
//	    <utility-public-key-file> <meter-ip-map-file> <public-key-folder> \
//	    <private-key-folder> <device-config-files...>
//
// Real meter-to-meter and meter-to-utility transport is out of scope
// (see network.Network's doc comment), so standalone meter has nothing
// to drive a live protocol run over; it validates its configuration and
// keys, takes its static device readings, and serves /metrics until
// interrupted. End-to-end protocol runs go through cmd/coordinator's
// -batch mode, which drives a whole simulated cluster in one process.
package main

import (
	"context"
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
	"go.dedis.ch/pddm/metrics"
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

	if len(args) < 6 {
		return errors.Wrapf(errs.ConfigurationError,
			"usage: meter [-variant v] <id> <utility-ip:port> <utility-public-key-file> <meter-ip-map-file> <public-key-folder> <private-key-folder> <device-config-files...>, got %d positional args", len(args))
	}
	id, err := cliutil.ParseID(args[0])
	if err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}
	utilityAddr := args[1]
	utilityPubKeyFile := args[2]
	ipMapFile := args[3]
	pubKeyDir := args[4]
	privKeyDir := args[5]
	deviceFiles := args[6:]

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

	if _, err := crypto.LoadPublicKeyFile(utilityPubKeyFile); err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}
	if _, err := crypto.LoadPrivateKey(privKeyDir, id); err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}
	keyring := crypto.NewFileKeyRing(pubKeyDir)
	for _, p := range peers {
		if _, err := keyring.PublicKey(p.ID); err != nil {
			return errors.Wrap(errs.ConfigurationError, err.Error())
		}
	}

	if _, err := cliutil.LoadDeviceMeasurements(deviceFiles); err != nil {
		return errors.Wrap(errs.ConfigurationError, err.Error())
	}

	myAddr := findOwnAddr(id, peers)
	if myAddr == "" {
		return errors.Wrapf(errs.ConfigurationError, "meter %d not found in IP map", id)
	}

	log.Lvl1("meter", id, ": N =", cfg.N, "T =", cfg.T, "variant =", cfg.Variant, "utility at", utilityAddr)
	return serveOnly(id, myAddr)
}

func findOwnAddr(id int, peers []cliutil.PeerAddr) string {
	for _, p := range peers {
		if p.ID == id {
			return p.Addr
		}
	}
	return ""
}

// serveOnly is meter's standalone mode: it has nothing to drive without
// real transport, so it just exposes /metrics and waits to be told to
// stop.
func serveOnly(id int, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Lvl1("meter", id, ": serving metrics on", addr, "- real meter transport is out of scope, nothing else to do")

	select {
	case <-ctx.Done():
		log.Lvl1("meter", id, ": shutting down")
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	}
}
