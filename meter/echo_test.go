package meter

import (
	"testing"

	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/overlay"
	"go.dedis.ch/pddm/timer"
	"go.dedis.ch/pddm/wire"
)

func TestEchoRedisseminatesValueToOtherProxiesInSet(t *testing.T) {
	n := 7
	net := network.NewSimNetwork()
	sim := timer.NewSimService()

	drivers := make([]*overlay.RoundDriver, n)
	for i := 0; i < n; i++ {
		drivers[i] = newTestDriver(net, sim, i, n)
	}

	cfg, err := config.New(n, config.CrashTolerant)
	if err != nil {
		t.Fatal(err)
	}

	// Meter 2 already holds a contribution whose proxy set is {2,4}; Echo
	// should forward it on to meter 4, the other proxy, but not back to
	// itself.
	contribution := wire.ValueContribution{Value: wire.ValueTuple{QueryNumber: 1, Proxies: []int{2, 4}}}

	st2 := newState(1)
	st2.proxyValues[contribution.Key()] = contribution
	st4 := newState(1)

	for i := 0; i < n; i++ {
		if i == 2 {
			continue
		}
		st := newState(1)
		if i == 4 {
			st = st4
		}
		drivers[i].StartPhase(1, cfg.SecondPhaseRounds(), newEchoController(cfg, i, drivers[i], nopCrypter{}, st, func() {}))
	}
	ec2 := newEchoController(cfg, 2, drivers[2], nopCrypter{}, st2, func() {})
	ec2.Start()

	rounds := cfg.SecondPhaseRounds()
	for r := 0; r < rounds; r++ {
		net.Pump()
		sim.Advance(100)
		net.Pump()
	}

	if _, ok := st4.proxyValues[contribution.Key()]; !ok {
		t.Fatal("expected echo to redisseminate the contribution to the other proxy")
	}
}

func TestEchoHandleMessageIgnoresWrongQuery(t *testing.T) {
	n := 3
	net := network.NewSimNetwork()
	sim := timer.NewSimService()
	driver := newTestDriver(net, sim, 0, n)

	cfg, err := config.New(n, config.CrashTolerant)
	if err != nil {
		t.Fatal(err)
	}
	st := newState(5)
	ec := newEchoController(cfg, 0, driver, nopCrypter{}, st, func() {})

	stale := wire.ValueContribution{Value: wire.ValueTuple{QueryNumber: 4, Proxies: []int{0}}}
	ec.HandleMessage(wire.OverlayMessage{
		QueryNumber: 4,
		Body:        wire.OverlayMessageBody{Type: wire.BodyValueContribution, Contribution: &stale},
	})

	if len(st.proxyValues) != 0 {
		t.Fatal("expected a message tagged for a different query to be ignored")
	}
}
