// Package utility implements the Utility Query Coordinator:
// the single actor that issues queries to every meter, blind-signs
// contributions on request in the Byzantine variant, collects the
// results the aggregation tree's roots report, and applies the
// variant's voting rule. It is grounded on PriFi's relay-side round
// coordination, generalized from PriFi's fixed relay role to PDDM's
// single utility actor.
package utility

import (
	"sort"

	"github.com/pkg/errors"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/fixedpoint"
	"go.dedis.ch/pddm/metrics"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/timer"
	"go.dedis.ch/pddm/wire"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// queryIssueRate caps how fast the coordinator moves on to the next
// query in a batch, so a large batch file doesn't flood the network
// with QueryRequests faster than a round's worth of the protocol can
// realistically drain.
const queryIssueRate = 5

// Coordinator is the utility-side actor (meter id -1). It implements
// network.Receiver in full; every handler but DeliverAggregation and
// DeliverSignatureRequest is a no-op, since nothing else is ever
// addressed to the utility.
type Coordinator struct {
	cfg *config.Config
	net network.UtilityNetwork
	timers timer.Service
	crypter crypto.Capability
	meters []int

	queryNumber int64
	results []wire.AggregationMessage
	finished bool
	timerID timer.ID

	signedThisQuery map[int]bool

	queue []wire.QueryRequest
	limiter *rate.Limiter

	// OnResult is invoked once per finished query with the winning
	// result (nil if the query failed to reach quorum/majority).
	OnResult func(queryNumber int64, result *wire.AggregationMessage)
}

// NewCoordinator builds a Coordinator that can query every id in meters.
func NewCoordinator(cfg *config.Config, net network.UtilityNetwork, timers timer.Service, crypter crypto.Capability, meters []int) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		net: net,
		timers: timers,
		crypter: crypter,
		meters: meters,
		queryNumber: -1,
		finished: true,
		limiter: rate.NewLimiter(queryIssueRate, 1),
	}
}

// StartQueries runs a batch of queries in query_number order, one at a
// time, starting the next only once the current one ends. It validates the whole batch up
// front, collecting every malformed entry rather than stopping at the
// first, so a caller loading a batch file sees every problem at once.
func (c *Coordinator) StartQueries(batch []wire.QueryRequest) error {
	if err := validateBatch(batch); err != nil {
		return err
	}

	ordered := append([]wire.QueryRequest(nil), batch...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].QueryNumber < ordered[j].QueryNumber })
	if len(ordered) == 0 {
		return nil
	}
	c.queue = ordered[1:]
	c.scheduleQuery(ordered[0])
	return nil
}

// scheduleQuery throttles batch issuance through limiter. The
// coordinator never blocks waiting on anything - it is driven entirely
// by timer and network callbacks - so a reservation that isn't
// immediately available arms a timer for its delay instead of calling
// rate.Limiter.Wait.
func (c *Coordinator) scheduleQuery(q wire.QueryRequest) {
	if d := c.limiter.Reserve().Delay(); d > 0 {
		c.timers.Register(int(d.Milliseconds())+1, func() { c.startQuery(q) })
		return
	}
	c.startQuery(q)
}

// validateBatch rejects negative query numbers and duplicates,
// combining every violation found into a single error instead of
// failing on the first.
func validateBatch(batch []wire.QueryRequest) error {
	var err error
	seen := make(map[int64]bool, len(batch))
	for _, q := range batch {
		if q.QueryNumber < 0 {
			err = multierr.Append(err, errors.Errorf("query %d: negative query number", q.QueryNumber))
		}
		if seen[q.QueryNumber] {
			err = multierr.Append(err, errors.Errorf("query %d: duplicate query number in batch", q.QueryNumber))
		}
		seen[q.QueryNumber] = true
	}
	return err
}

func (c *Coordinator) startQuery(q wire.QueryRequest) {
	c.queryNumber = q.QueryNumber
	c.results = nil
	c.finished = false
	c.signedThisQuery = make(map[int]bool)

	for _, id := range c.meters {
		if c.net.SendQuery(q, id) == network.Unreachable {
			log.Lvl2("utility: meter", id, "unreachable for query", q.QueryNumber)
		}
	}

	c.armWatchdog(c.cfg.RoundsForQuery() * c.cfg.NetworkRTTimeout)
}

func (c *Coordinator) armWatchdog(delayMs int) {
	c.timerID = c.timers.Register(delayMs, c.onTimeout)
}

func (c *Coordinator) onTimeout() {
	if c.finished {
		return
	}
	log.Lvl2("utility: query", c.queryNumber, "timed out with", len(c.results), "results")
	c.endQuery()
}

// DeliverAggregation collects one root's reported partial sum, re-arms
// a shorter per-message timer, and ends the query once the quorum
// threshold is reached.
func (c *Coordinator) DeliverAggregation(msg wire.AggregationMessage) {
	if c.finished || msg.QueryNumber != c.queryNumber {
		return
	}
	c.results = append(c.results, msg)

	c.timers.Cancel(c.timerID)
	c.armWatchdog(c.cfg.NetworkRTTimeout)

	if len(c.results) >= c.cfg.QuorumThreshold() {
		c.endQuery()
	}
}

// DeliverSignatureRequest blind-signs a sender's contribution at most
// once per query.
func (c *Coordinator) DeliverSignatureRequest(req wire.SignatureRequest) {
	if c.signedThisQuery[req.SenderID] {
		return
	}
	signed, err := c.crypter.RSASignBlinded(req.Blob)
	if err != nil {
		log.Lvl2("utility: failed to blind-sign for meter", req.SenderID, ":", err)
		return
	}
	c.signedThisQuery[req.SenderID] = true
	if c.net.SendSignatureResponse(wire.SignatureResponse{Blob: signed}, req.SenderID) == network.Unreachable {
		log.Lvl2("utility: meter", req.SenderID, "unreachable for signature response")
	}
}

// endQuery picks the winning result per the variant's voting rule,
// invokes OnResult, and starts the next queued query if any.
func (c *Coordinator) endQuery() {
	c.finished = true
	c.timers.Cancel(c.timerID)

	var winner *wire.AggregationMessage
	if c.cfg.Variant == config.Byzantine {
		winner = c.majorityEqualResult()
	} else {
		winner = c.highestContributorResult()
	}

	if winner != nil {
		metrics.QueryFinished()
	} else {
		metrics.QueryFailed()
	}
	if c.OnResult != nil {
		c.OnResult(c.queryNumber, winner)
	}

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.scheduleQuery(next)
	}
}

// majorityEqualResult returns the first result body (in arrival order)
// that recurs at least t+1 times among the collected results, or nil
// if none does.
func (c *Coordinator) majorityEqualResult() *wire.AggregationMessage {
	threshold := c.cfg.T + 1
	counts := make(map[string]int)
	first := make(map[string]wire.AggregationMessage)
	order := make([]string, 0, len(c.results))

	for _, r := range c.results {
		key := vectorKey(r.Body)
		if counts[key] == 0 {
			first[key] = r
			order = append(order, key)
		}
		counts[key]++
	}
	for _, key := range order {
		if counts[key] >= threshold {
			r := first[key]
			return &r
		}
	}
	return nil
}

// highestContributorResult returns the result with the largest
// num_contributors.
func (c *Coordinator) highestContributorResult() *wire.AggregationMessage {
	if len(c.results) == 0 {
		return nil
	}
	best := c.results[0]
	for _, r := range c.results[1:] {
		if r.NumContributors > best.NumContributors {
			best = r
		}
	}
	return &best
}

// vectorKey returns a comparable byte encoding of a result body, used
// to group structurally equal results for the majority-equal rule.
func vectorKey(v fixedpoint.Vector) string {
	b := make([]byte, 0, len(v)*8)
	for _, n := range v {
		x := uint64(n)
		for i := 0; i < 8; i++ {
			b = append(b, byte(x>>(56-8*i)))
		}
	}
	return string(b)
}

// DeliverOverlayBatch, DeliverPing, and DeliverQueryRequest are never
// addressed to the utility and are no-ops here.
func (c *Coordinator) DeliverOverlayBatch(senderID int, batch []wire.OverlayTransportMessage) {}
func (c *Coordinator) DeliverPing(msg wire.PingMessage) {}
func (c *Coordinator) DeliverQueryRequest(q wire.QueryRequest) {}
func (c *Coordinator) DeliverSignatureResponse(resp wire.SignatureResponse) {}
