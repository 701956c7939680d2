package meter

import (
	"math/rand"

	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/overlay"
	"go.dedis.ch/pddm/wire"
)

// shuffleController runs the Shuffle/Scatter phase:
// onion-routed dissemination to proxies for crash-tolerant and
// Byzantine variants, flood-via-relay dissemination for the
// high-failure-tolerant variant.
type shuffleController struct {
	cfg *config.Config
	id int
	driver *overlay.RoundDriver
	crypter crypto.Capability
	st *state
	proxies []int
	onEnd func()
}

func newShuffleController(cfg *config.Config, id int, driver *overlay.RoundDriver, crypter crypto.Capability, st *state, proxies []int, onEnd func()) *shuffleController {
	return &shuffleController{cfg: cfg, id: id, driver: driver, crypter: crypter, st: st, proxies: proxies, onEnd: onEnd}
}

// Start begins driving the overlay for the phase's round budget, then
// builds and enqueues this meter's contribution toward every proxy.
// StartPhase must run first: it clears the driver's outgoing batch from
// the previous phase, which would otherwise discard whatever this call
// enqueues.
func (s *shuffleController) Start() {
	rounds := s.cfg.ShufflePhaseRounds()
	s.driver.StartPhase(s.st.queryNumber, rounds, s)

	body := wire.OverlayMessageBody{Type: wire.BodyValueContribution, Contribution: &s.st.myContribution}
	if s.cfg.Variant == config.HighFailureTolerant {
		s.startFlood(body)
	} else {
		s.startOnion(body)
	}
}

func (s *shuffleController) startOnion(body wire.OverlayMessageBody) {
	for _, proxy := range s.proxies {
		if proxy == s.id {
			continue
		}
		path, err := overlay.FindPaths(s.id, []int{proxy}, s.cfg.N, 0)
		if err != nil {
			log.Lvl2("shuffle: path finder failed for proxy", proxy, ":", err)
			continue
		}
		msg, err := overlay.BuildOnion(path[0], body, s.st.queryNumber, s.crypter)
		if err != nil {
			log.Lvl2("shuffle: onion build failed for proxy", proxy, ":", err)
			continue
		}
		s.driver.Enqueue(msg)
	}
}

// startFlood implements the HFT two-layer flood-with-relay scatter.
func (s *shuffleController) startFlood(body wire.OverlayMessageBody) {
	proxySet := make(map[int]bool, len(s.proxies))
	for _, p := range s.proxies {
		proxySet[p] = true
	}
	nonProxies := make([]int, 0, s.cfg.N-len(proxySet))
	for id := 0; id < s.cfg.N; id++ {
		if id != s.id && !proxySet[id] {
			nonProxies = append(nonProxies, id)
		}
	}

	for _, proxy := range s.proxies {
		if proxy == s.id || len(nonProxies) == 0 {
			continue
		}
		relay := nonProxies[rand.Intn(len(nonProxies))]
		inner := wire.OverlayMessage{
			QueryNumber: s.st.queryNumber,
			Destination: proxy,
			Flood: true,
			Body: body,
		}
		outer := wire.OverlayMessage{
			QueryNumber: s.st.queryNumber,
			Destination: relay,
			Flood: true,
			Body: wire.OverlayMessageBody{Type: wire.BodyOverlay, Nested: &inner},
		}
		s.driver.Enqueue(outer)
	}
}

// HandleMessage implements overlay.PhaseHandler. A flood-carried inner
// layer arriving at a relay (rather than at its final proxy) is stored
// for re-flooding once Gather starts.
func (s *shuffleController) HandleMessage(msg wire.OverlayMessage) {
	if msg.QueryNumber != s.st.queryNumber {
		return
	}
	switch msg.Body.Type {
	case wire.BodyOverlay:
		if msg.Body.Nested != nil {
			s.st.relayMessages = append(s.st.relayMessages, *msg.Body.Nested)
		}
	case wire.BodyValueContribution:
		s.acceptContribution(msg.Body.Contribution)
	default:
		log.Lvl2("shuffle: unexpected body type", msg.Body.Type)
	}
}

func (s *shuffleController) acceptContribution(c *wire.ValueContribution) {
	if c == nil {
		return
	}
	if s.cfg.Variant == config.Byzantine {
		if !s.crypter.RSAVerifyBlindSignature(c.Value, c.Signature, config.UtilityID) {
			log.Lvl2("shuffle: dropping contribution with invalid utility signature")
			return
		}
	}
	s.st.proxyValues[c.Value.Key()] = *c
}

func (s *shuffleController) OnPhaseEnd() {
	s.onEnd()
}
