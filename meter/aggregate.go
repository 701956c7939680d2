package meter

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/fixedpoint"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/overlay"
	"go.dedis.ch/pddm/wire"
)

// aggregateState drives the Tree Aggregation State Machine.
// Unlike the overlay phase controllers it is not a PhaseHandler: it is
// driven directly by DeliverAggregation calls rather than by gossip
// rounds, since tree aggregation travels by direct parent/child sends,
// not the gossip graph.
type aggregateState struct {
	cfg *config.Config
	id int
	net network.MeterNetwork
	driver *overlay.RoundDriver
	st *state
	onEnd func()

	parentID int
	hasParent bool
	childrenIDs []int
	utilityID int
}

func newAggregateState(cfg *config.Config, id int, net network.MeterNetwork, driver *overlay.RoundDriver, st *state, onEnd func()) *aggregateState {
	return &aggregateState{cfg: cfg, id: id, net: net, driver: driver, st: st, onEnd: onEnd, utilityID: config.UtilityID}
}

// Start initializes the accumulator and children_needed, replays any
// future_aggregation_messages buffered for this query, and short-circuits
// straight to completion for a leaf with no children.
func (a *aggregateState) Start() {
	g := a.cfg.Groups()
	n := a.cfg.N
	group := overlay.AggregationGroupFor(a.id, n, g)
	groupSize := len(overlay.GroupMembers(n, g, group))
	rel := overlay.RelativeIndex(a.id, n, g)

	a.parentID, a.hasParent = a.resolveParent(rel, group, n, g)
	a.childrenIDs = a.resolveChildren(rel, groupSize, group, n, g)

	a.st.aggVector = fixedpoint.ZeroVector(len(a.st.myContribution.Value.Measurements))
	a.st.aggNumContributors = 0
	a.st.childrenNeeded = len(a.childrenIDs)
	a.st.childrenReceived = 0
	a.st.aggInitialized = true

	pending := a.st.futureAggregationMessages
	a.st.futureAggregationMessages = nil
	for _, m := range pending {
		if m.QueryNumber == a.st.queryNumber {
			a.handle(m)
		}
	}

	a.maybeComplete()
}

func (a *aggregateState) resolveParent(rel, group, n, g int) (int, bool) {
	parentRel, ok := overlay.TreeParent(rel)
	if !ok {
		return 0, false
	}
	bounds := overlay.GroupBoundaries(n, g)
	return bounds[group] + parentRel, true
}

// resolveChildren maps relative tree positions to meter ids and drops
// any already observed as unreachable.
func (a *aggregateState) resolveChildren(rel, groupSize, group, n, g int) []int {
	bounds := overlay.GroupBoundaries(n, g)
	var live []int
	for _, childRel := range overlay.TreeChildren(rel, groupSize) {
		childID := bounds[group] + childRel
		if a.driver.IsFailed(childID) {
			continue
		}
		live = append(live, childID)
	}
	return live
}

// DeliverAggregation handles one inbound AggregationMessage, buffering
// it if aggregation hasn't started yet or it targets a future query.
func (a *aggregateState) DeliverAggregation(msg wire.AggregationMessage) {
	if !a.st.aggInitialized || msg.QueryNumber > a.st.queryNumber {
		a.st.futureAggregationMessages = append(a.st.futureAggregationMessages, msg)
		return
	}
	if msg.QueryNumber < a.st.queryNumber {
		return
	}
	a.handle(msg)
	a.maybeComplete()
}

func (a *aggregateState) handle(msg wire.AggregationMessage) {
	a.st.aggVector = a.st.aggVector.AddInto(msg.Body)
	a.st.aggNumContributors += msg.NumContributors
	a.st.childrenReceived++
}

// maybeComplete folds in this meter's own accepted/proxy values once
// every live child has reported, then forwards up the tree or to the
// utility at the root.
func (a *aggregateState) maybeComplete() {
	if a.st.childrenReceived < a.st.childrenNeeded {
		return
	}

	own := a.st.acceptedProxyValues
	if a.cfg.Variant != config.Byzantine {
		own = a.st.proxyValues
	}
	for _, c := range own {
		a.st.aggVector = a.st.aggVector.AddInto(c.Value.Measurements)
		a.st.aggNumContributors++
	}

	out := wire.AggregationMessage{
		SenderID: a.id,
		QueryNumber: a.st.queryNumber,
		NumContributors: a.st.aggNumContributors,
		Body: a.st.aggVector,
	}

	dest := a.utilityID
	if a.hasParent {
		dest = a.parentID
	}
	if a.net.SendAggregation(out, dest) == network.Unreachable {
		log.Lvl2("aggregate: failed to send to", dest)
	}

	a.st.phase = PhaseIdle
	a.onEnd()
}
