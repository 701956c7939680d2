package meter

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/overlay"
	"go.dedis.ch/pddm/timer"
	"go.dedis.ch/pddm/wire"
)

// Meter is the per-meter protocol actor: a single-
// threaded state machine that owns one overlay.RoundDriver and walks a
// fresh query through Setup, Shuffle/Scatter, Agreement/Echo/Gather, and
// Aggregate, recreating its state whenever a QueryRequest with a
// strictly greater query_number preempts whatever is in flight. It
// implements network.Receiver in full, delegating the overlay-facing
// handlers to the RoundDriver and the tree-facing ones to its own
// aggregate state machine.
type Meter struct {
	cfg *config.Config
	id int
	net network.MeterNetwork
	timers timer.Service
	crypter crypto.Capability
	source MeasurementSource

	driver *overlay.RoundDriver
	st *state
	agg *aggregateState
}

// NewMeter builds a meter that starts Idle, with query_number effectively
// -1 so that any QueryRequest (query numbers are non-negative) preempts it.
func NewMeter(cfg *config.Config, id int, net network.MeterNetwork, timers timer.Service, crypter crypto.Capability, source MeasurementSource) *Meter {
	m := &Meter{
		cfg: cfg,
		id: id,
		net: net,
		timers: timers,
		crypter: crypter,
		source: source,
		driver: overlay.NewRoundDriver(id, cfg.N, net, timers, crypter, cfg.RoundTimeout),
		st: newState(-1),
	}
	m.st.phase = PhaseIdle
	return m
}

// DeliverQueryRequest preempts any in-flight query and starts a fresh
// one.
func (m *Meter) DeliverQueryRequest(q wire.QueryRequest) {
	if q.QueryNumber <= m.st.queryNumber {
		log.Lvl3("meter", m.id, "dropping stale or duplicate query", q.QueryNumber)
		return
	}

	m.st = newState(q.QueryNumber)
	m.agg = newAggregateState(m.cfg, m.id, m.net, m.driver, m.st, m.afterAggregate)

	measurements := m.source.Measure(q)
	proxies := overlay.PickProxies(m.id, q.QueryNumber, m.cfg.N, m.cfg.Groups())
	m.st.myContribution.Value = wire.ValueTuple{
		QueryNumber: q.QueryNumber,
		Measurements: measurements,
		Proxies: proxies,
	}

	if m.cfg.Variant == config.Byzantine {
		m.requestSignature()
		return
	}
	m.startShuffle(proxies)
}

// requestSignature blinds this meter's contribution and asks the
// utility to sign it, deferring Shuffle until the response arrives.
func (m *Meter) requestSignature() {
	blob, unblinder, err := m.crypter.RSABlind(m.st.myContribution.Value)
	if err != nil {
		log.Lvl2("meter", m.id, "failed to blind contribution:", err)
		return
	}
	m.st.pendingUnblinder = unblinder
	if m.net.SendSignatureRequest(wire.SignatureRequest{SenderID: m.id, Blob: blob}, config.UtilityID) == network.Unreachable {
		log.Lvl2("meter", m.id, "utility unreachable for signature request")
	}
}

// DeliverSignatureResponse unblinds the utility's reply and starts
// Shuffle now that the contribution is signed.
func (m *Meter) DeliverSignatureResponse(resp wire.SignatureResponse) {
	if m.st.pendingUnblinder == nil {
		return
	}
	sig, err := m.crypter.RSAUnblind(resp.Blob, m.st.pendingUnblinder)
	if err != nil {
		log.Lvl2("meter", m.id, "failed to unblind signature:", err)
		return
	}
	m.st.myContribution.Signature = sig
	m.st.pendingUnblinder = nil
	m.st.signatureReceived = true
	m.startShuffle(m.st.myContribution.Value.Proxies)
}

// DeliverSignatureRequest is unused on a meter; only the utility signs
// on request.
func (m *Meter) DeliverSignatureRequest(wire.SignatureRequest) {}

func (m *Meter) startShuffle(proxies []int) {
	m.st.phase = PhaseShuffle
	c := newShuffleController(m.cfg, m.id, m.driver, m.crypter, m.st, proxies, m.afterShuffle)
	c.Start()
}

// afterShuffle moves to Crusader Agreement (Byzantine) or Echo/Gather
// (other variants), both of which end by entering Aggregate.
func (m *Meter) afterShuffle() {
	m.st.phase = PhaseAgreement
	if m.cfg.Variant == config.Byzantine {
		c := newAgreementController(m.cfg, m.id, m.driver, m.crypter, m.st, m.startAggregate)
		c.Start()
		return
	}
	c := newEchoController(m.cfg, m.id, m.driver, m.crypter, m.st, m.startAggregate)
	c.Start()
}

func (m *Meter) startAggregate() {
	m.st.phase = PhaseAggregate
	m.agg.Start()
}

// afterAggregate is called once this meter's subtree has reported to
// its parent or the utility; aggregateState already moved st.phase to
// Idle.
func (m *Meter) afterAggregate() {
	log.Lvl3("meter", m.id, "finished query", m.st.queryNumber)
}

// DeliverOverlayBatch and DeliverPing are the overlay-facing handlers,
// delegated to the RoundDriver.
func (m *Meter) DeliverOverlayBatch(senderID int, batch []wire.OverlayTransportMessage) {
	m.driver.DeliverOverlayBatch(senderID, batch)
}

func (m *Meter) DeliverPing(msg wire.PingMessage) {
	m.driver.DeliverPing(msg)
}

// DeliverAggregation is the tree-facing handler, delegated to the
// aggregate state machine regardless of the current overlay phase,
// since tree messages travel independently of gossip rounds.
func (m *Meter) DeliverAggregation(msg wire.AggregationMessage) {
	m.agg.DeliverAggregation(msg)
}
