package overlay

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/metrics"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/timer"
	"go.dedis.ch/pddm/wire"
)

// PhaseHandler is what a Shuffle/Scatter, Echo/Gather, or Agreement
// controller implements to consume messages the round driver
// delivers and to learn when its phase's round budget is exhausted.
type PhaseHandler interface {
	// HandleMessage is called once per inbound OverlayMessage addressed
	// to this meter, after onion peeling and path-hop popping.
	HandleMessage(msg wire.OverlayMessage)
	// OnPhaseEnd is called once the phase's round budget is exhausted.
	OnPhaseEnd()
}

// RoundDriver runs the synchronous gossip-round contract for one
// meter: forming and sending each round's outgoing batch, pinging and
// watching the predecessor, buffering out-of-round and out-of-query
// messages, and peeling onion layers addressed to this meter. A meter
// owns exactly one RoundDriver and re-starts it for each phase of each
// query (Shuffle, then Echo or each of Agreement's two phases, run their
// own rounds; Aggregate does not use the driver's rounds).
type RoundDriver struct {
	meterID int
	n int

	net network.MeterNetwork
	timers timer.Service
	crypter crypto.Capability

	roundTimeoutMs int
	failedMeterIDs map[int]bool

	queryNumber int64
	round int
	phaseRounds int
	handler PhaseHandler

	outgoingMessages []wire.OverlayMessage
	waitingMessages []wire.OverlayMessage
	futureMessages []wire.OverlayTransportMessage

	pingResponseFromPredecessor bool
	timerID timer.ID
	phaseEnded bool

	stalledRounds int
}

// NewRoundDriver builds a RoundDriver for meterID in an N-meter network,
// using roundTimeoutMs as the per-round timeout (default 100ms, step 5).
func NewRoundDriver(meterID, n int, net network.MeterNetwork, timers timer.Service, crypter crypto.Capability, roundTimeoutMs int) *RoundDriver {
	return &RoundDriver{
		meterID: meterID,
		n: n,
		net: net,
		timers: timers,
		crypter: crypter,
		roundTimeoutMs: roundTimeoutMs,
		failedMeterIDs: make(map[int]bool),
	}
}

// IsFailed reports whether id has been observed unreachable.
func (d *RoundDriver) IsFailed(id int) bool { return d.failedMeterIDs[id] }

// StalledRounds returns the number of rounds this driver ended while
// its gossip predecessor for that round was already marked failed.
func (d *RoundDriver) StalledRounds() int { return d.stalledRounds }

// Enqueue adds an OverlayMessage to this meter's outgoing queue. The
// whole queue goes out in the next round's batch to that round's gossip
// target, whatever each message's destination; a meter that receives a
// message addressed elsewhere holds it and forwards it once its own
// round target equals the destination, or in its next batch if Flood is
// set. Phase controllers call this to hand off onions and path-routed
// payloads.
func (d *RoundDriver) Enqueue(msg wire.OverlayMessage) {
	d.outgoingMessages = append(d.outgoingMessages, msg)
}

// StartPhase resets round state and begins driving rounds for a new
// phase of queryNumber, running for exactly rounds rounds before calling
// handler.OnPhaseEnd.
func (d *RoundDriver) StartPhase(queryNumber int64, rounds int, handler PhaseHandler) {
	d.queryNumber = queryNumber
	d.round = 0
	d.phaseRounds = rounds
	d.handler = handler
	d.phaseEnded = false
	d.outgoingMessages = nil
	d.waitingMessages = nil
	d.pingResponseFromPredecessor = false
	d.beginRound()
}

func (d *RoundDriver) beginRound() {
	// Step 1: replay buffered messages whose sender_round now matches.
	var remaining []wire.OverlayTransportMessage
	var due []wire.OverlayTransportMessage
	for _, m := range d.futureMessages {
		if m.Body.QueryNumber == d.queryNumber && m.SenderRound == d.round {
			due = append(due, m)
		} else {
			remaining = append(remaining, m)
		}
	}
	d.futureMessages = remaining
	for _, m := range due {
		d.processBody(m.Body)
	}

	// Step 2: form the outgoing batch.
	target := Target(d.meterID, d.round, d.n)
	batch := d.outgoingMessages
	d.outgoingMessages = nil

	var stillWaiting []wire.OverlayMessage
	for _, m := range d.waitingMessages {
		if m.Destination == target || m.Flood {
			batch = append(batch, m)
		} else {
			stillWaiting = append(stillWaiting, m)
		}
	}
	d.waitingMessages = stillWaiting

	var transport []wire.OverlayTransportMessage
	if len(batch) == 0 {
		transport = []wire.OverlayTransportMessage{{
			SenderID: d.meterID,
			SenderRound: d.round,
			IsFinalMessage: true,
			Body: wire.OverlayMessage{QueryNumber: d.queryNumber},
		}}
	} else {
		transport = make([]wire.OverlayTransportMessage, len(batch))
		for i, m := range batch {
			transport[i] = wire.OverlayTransportMessage{
				SenderID: d.meterID,
				SenderRound: d.round,
				IsFinalMessage: i == len(batch)-1,
				Body: m,
			}
		}
	}

	// Step 3: send to this round's gossip target.
	if !d.failedMeterIDs[target] {
		if d.net.SendOverlayBatch(transport, target) == network.Unreachable {
			d.failedMeterIDs[target] = true
		}
	}

	// Step 4: ping the predecessor.
	pred := Predecessor(d.meterID, d.round, d.n)
	if !d.failedMeterIDs[pred] {
		if d.net.SendPing(wire.PingMessage{SenderID: d.meterID}, pred) == network.Unreachable {
			d.failedMeterIDs[pred] = true
		}
	}

	// Step 5: arm the round timer.
	d.armTimer()
}

func (d *RoundDriver) armTimer() {
	d.timerID = d.timers.Register(d.roundTimeoutMs, d.onTimeout)
}

func (d *RoundDriver) onTimeout() {
	if d.phaseEnded {
		return
	}
	if d.pingResponseFromPredecessor {
		d.pingResponseFromPredecessor = false
		pred := Predecessor(d.meterID, d.round, d.n)
		if !d.failedMeterIDs[pred] && d.allowReping() {
			if d.net.SendPing(wire.PingMessage{SenderID: d.meterID}, pred) == network.Unreachable {
				d.failedMeterIDs[pred] = true
			}
		}
		d.armTimer()
		return
	}
	d.endRound()
}

// repingLimiter is implemented by timer.RealService; a timer.Service
// that doesn't implement it (timer.SimService, in tests) re-pings on
// every timeout instead.
type repingLimiter interface {
	AllowRepingStalledPredecessor() bool
}

func (d *RoundDriver) allowReping() bool {
	l, ok := d.timers.(repingLimiter)
	if !ok {
		return true
	}
	return l.AllowRepingStalledPredecessor()
}

func (d *RoundDriver) endRound() {
	if d.phaseEnded {
		return
	}
	if pred := Predecessor(d.meterID, d.round, d.n); d.failedMeterIDs[pred] {
		d.stalledRounds++
		metrics.StalledRound()
	}
	d.timers.Cancel(d.timerID)
	metrics.RoundCompleted()
	if d.round+1 >= d.phaseRounds {
		d.phaseEnded = true
		if d.handler != nil {
			d.handler.OnPhaseEnd()
		}
		return
	}
	d.round++
	d.beginRound()
}

// DeliverPing handles a per-round liveness probe: non-response pings get
// an immediate response; a response from the current predecessor marks
// it alive for this round.
func (d *RoundDriver) DeliverPing(msg wire.PingMessage) {
	if !msg.IsResponse {
		d.net.SendPing(wire.PingMessage{SenderID: d.meterID, IsResponse: true}, msg.SenderID)
		return
	}
	if msg.SenderID == Predecessor(d.meterID, d.round, d.n) {
		d.pingResponseFromPredecessor = true
	}
}

// DeliverOverlayBatch applies the delivery rules to an inbound
// batch, and ends the round early once the designated predecessor's
// final message for the current round and query is seen.
func (d *RoundDriver) DeliverOverlayBatch(senderID int, batch []wire.OverlayTransportMessage) {
	pred := Predecessor(d.meterID, d.round, d.n)
	finalFromPartner := false
	for _, m := range batch {
		d.receiveTransportMessage(m)
		if senderID == pred && m.SenderRound == d.round && m.Body.QueryNumber == d.queryNumber && m.IsFinalMessage {
			finalFromPartner = true
		}
	}
	if finalFromPartner {
		d.endRound()
	}
}

func (d *RoundDriver) receiveTransportMessage(m wire.OverlayTransportMessage) {
	if Target(m.SenderID, m.SenderRound, d.n) != d.meterID {
		log.Lvl3("overlay: dropping message from wrong gossip partner", m.SenderID, "round", m.SenderRound)
		metrics.MessageDropped("wrong_gossip_partner")
		return
	}
	if m.Body.QueryNumber > d.queryNumber {
		d.futureMessages = append(d.futureMessages, m)
		return
	}
	if m.Body.QueryNumber < d.queryNumber {
		metrics.MessageDropped("stale_query")
		return
	}
	if m.SenderRound > d.round {
		d.futureMessages = append(d.futureMessages, m)
		return
	}
	if m.SenderRound < d.round {
		metrics.MessageDropped("stale_round")
		return
	}
	d.processBody(m.Body)
}

// processBody peels one onion layer if this node is the addressee of an
// encrypted layer, forwards path-routed and not-yet-arrived messages,
// and dispatches messages that have reached their destination to the
// active phase handler.
func (d *RoundDriver) processBody(body wire.OverlayMessage) {
	if body.Body.Type == wire.BodyNone {
		return // dummy padding message for an empty round
	}

	msg := body
	if msg.IsEncrypted && msg.Destination == d.meterID && msg.Body.Type == wire.BodyString {
		inner, err := PeelLayer([]byte(msg.Body.Str), d.crypter)
		if err != nil {
			log.Lvl2("overlay: failed to peel onion layer:", err)
			return
		}
		msg = inner
	}

	switch {
	case msg.Body.Type == wire.BodyPathOverlay && msg.Body.Path != nil && len(msg.Body.Path.RemainingPath) > 0:
		next := *msg.Body.Path
		next.PopHead()
		if len(next.RemainingPath) > 0 {
			// More hops remain: re-wrap so the next hop can pop again
			// instead of mistaking this relay leg for final delivery.
			forwarded := next.Message
			forwarded.Body = wire.OverlayMessageBody{Type: wire.BodyPathOverlay, Path: &next}
			d.waitingMessages = append(d.waitingMessages, forwarded)
		} else {
			d.waitingMessages = append(d.waitingMessages, next.Message)
		}
	case msg.Destination == d.meterID:
		if d.handler != nil {
			d.handler.HandleMessage(msg)
		}
	default:
		d.waitingMessages = append(d.waitingMessages, msg)
	}
}
