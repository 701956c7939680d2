package network

import (
	"sync"

	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/wire"
)

// SimNetwork is an in-memory Network used by tests and the batch
// simulation CLI. Delivery is ordered per sender-receiver pair, because
// every send goes into one shared queue that Pump drains in FIFO order.
type SimNetwork struct {
	mu sync.Mutex

	receivers map[int]Receiver
	failed map[int]bool // nodes the network will report Unreachable for

	// pending holds not-yet-delivered sends of all (sender,receiver)
	// pairs in one queue, preserving send order.
	pending []pendingSend
}

type pendingSend struct {
	from, to int
	deliver func(Receiver)
}

// NewSimNetwork returns an empty simulated network.
func NewSimNetwork() *SimNetwork {
	return &SimNetwork{
		receivers: make(map[int]Receiver),
		failed: make(map[int]bool),
	}
}

// Register attaches a meter or utility Receiver under id.
func (n *SimNetwork) Register(id int, r Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers[id] = r
}

// Fail marks id as unreachable: any send to it resolves to Unreachable
// and is dropped, modeling a crashed meter.
func (n *SimNetwork) Fail(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed[id] = true
}

func (n *SimNetwork) enqueue(from, to int, deliver func(Receiver)) SendResult {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failed[to] {
		return Unreachable
	}
	if _, ok := n.receivers[to]; !ok {
		return Unreachable
	}
	n.pending = append(n.pending, pendingSend{from: from, to: to, deliver: deliver})
	return Ok
}

func (n *SimNetwork) SendOverlayBatch(batch []wire.OverlayTransportMessage, recipientID int) SendResult {
	from := 0
	if len(batch) > 0 {
		from = batch[0].SenderID
	}
	return n.enqueue(from, recipientID, func(r Receiver) {
		r.DeliverOverlayBatch(from, batch)
	})
}

func (n *SimNetwork) SendAggregation(msg wire.AggregationMessage, recipientID int) SendResult {
	return n.enqueue(msg.SenderID, recipientID, func(r Receiver) { r.DeliverAggregation(msg) })
}

func (n *SimNetwork) SendPing(msg wire.PingMessage, recipientID int) SendResult {
	return n.enqueue(msg.SenderID, recipientID, func(r Receiver) { r.DeliverPing(msg) })
}

func (n *SimNetwork) SendSignatureRequest(msg wire.SignatureRequest, recipientID int) SendResult {
	return n.enqueue(msg.SenderID, recipientID, func(r Receiver) { r.DeliverSignatureRequest(msg) })
}

func (n *SimNetwork) SendQuery(q wire.QueryRequest, recipientID int) SendResult {
	return n.enqueue(-1, recipientID, func(r Receiver) { r.DeliverQueryRequest(q) })
}

func (n *SimNetwork) SendSignatureResponse(resp wire.SignatureResponse, recipientID int) SendResult {
	return n.enqueue(-1, recipientID, func(r Receiver) { r.DeliverSignatureResponse(resp) })
}

// Pump delivers every message enqueued so far, in FIFO order, and
// returns the number delivered. Called once per simulated "tick" by
// the batch CLI / tests, after advancing the simulated timer.
func (n *SimNetwork) Pump() int {
	n.mu.Lock()
	batch := n.pending
	n.pending = nil
	receivers := n.receivers
	n.mu.Unlock()

	for _, p := range batch {
		r, ok := receivers[p.to]
		if !ok {
			log.Lvl3("simnet: dropping message to unregistered node", p.to)
			continue
		}
		p.deliver(r)
	}
	return len(batch)
}
