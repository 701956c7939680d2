package meter

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/overlay"
	"go.dedis.ch/pddm/wire"
)

// echoController implements Echo (crash-tolerant) and Gather
// (high-failure-tolerant) re-dissemination: every value
// already in proxyValues is re-sent to every other proxy of that
// value's own proxy set, for redundancy against dropped onions.
type echoController struct {
	cfg *config.Config
	id int
	driver *overlay.RoundDriver
	crypter crypto.Capability
	st *state
	onEnd func()
}

func newEchoController(cfg *config.Config, id int, driver *overlay.RoundDriver, crypter crypto.Capability, st *state, onEnd func()) *echoController {
	return &echoController{cfg: cfg, id: id, driver: driver, crypter: crypter, st: st, onEnd: onEnd}
}

// Start begins driving the overlay for the phase's round budget before
// enqueueing anything: StartPhase clears the driver's outgoing batch
// left over from the previous phase, and must run before this phase's
// own messages are enqueued into it.
func (e *echoController) Start() {
	rounds := e.cfg.SecondPhaseRounds()
	e.driver.StartPhase(e.st.queryNumber, rounds, e)

	values := make([]wire.ValueContribution, 0, len(e.st.proxyValues))
	for _, v := range e.st.proxyValues {
		values = append(values, v)
	}
	// HFT relays flood what they captured in Scatter, in addition to
	// anything already locally held.
	for _, m := range e.st.relayMessages {
		if m.Body.Type == wire.BodyValueContribution && m.Body.Contribution != nil {
			values = append(values, *m.Body.Contribution)
		}
	}

	for _, v := range values {
		for _, proxy := range v.Value.Proxies {
			if proxy == e.id {
				continue
			}
			// Echo/Gather re-dissemination is source-routed but
			// unencrypted: by this point every recipient already knows
			// the full proxy list structurally, from the contribution's
			// own ValueTuple, so onion encryption buys no additional
			// anonymity over plain path routing.
			body := wire.OverlayMessageBody{Type: wire.BodyValueContribution, Contribution: &v}
			path, err := overlay.FindPaths(e.id, []int{proxy}, e.cfg.N, 0)
			if err != nil {
				log.Lvl2("echo: path finder failed for proxy", proxy, ":", err)
				continue
			}
			routed := overlay.BuildPathOverlayMessage(path[0], body, e.st.queryNumber)
			e.driver.Enqueue(routed)
		}
	}
}

// HandleMessage dedups inbound ValueContributions by structural equality.
func (e *echoController) HandleMessage(msg wire.OverlayMessage) {
	if msg.QueryNumber != e.st.queryNumber || msg.Body.Type != wire.BodyValueContribution || msg.Body.Contribution == nil {
		return
	}
	c := *msg.Body.Contribution
	e.st.proxyValues[c.Value.Key()] = c
}

func (e *echoController) OnPhaseEnd() {
	e.onEnd()
}
