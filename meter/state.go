// Package meter implements the per-meter protocol actor: the Shuffle/
// Scatter, Echo/Gather, Crusader Agreement, and Tree Aggregation phase
// controllers wired around one overlay.RoundDriver per query, grounded
// on Dissent's client-side state-machine style (a per-round phase enum
// driving message handling), generalized from Dissent's fixed
// client/relay roles to PDDM's symmetric meter role.
package meter

import (
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/fixedpoint"
	"go.dedis.ch/pddm/wire"
)

// Phase is the per-meter protocol phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSetup
	PhaseShuffle
	PhaseAgreement
	PhaseAggregate
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseSetup:
		return "Setup"
	case PhaseShuffle:
		return "Shuffle"
	case PhaseAgreement:
		return "Agreement"
	case PhaseAggregate:
		return "Aggregate"
	default:
		return "Unknown"
	}
}

// MeasurementSource is the external collaborator that produces a
// meter's own reading for a query.
type MeasurementSource interface {
	Measure(q wire.QueryRequest) fixedpoint.Vector
}

// StaticSource is a MeasurementSource that returns the same reading for
// every query, the way a meter built from static device-config files
// rather than a live device connection behaves.
type StaticSource struct {
	Reading fixedpoint.Vector
}

func (s StaticSource) Measure(wire.QueryRequest) fixedpoint.Vector { return s.Reading.Clone() }

// state holds the per-query protocol state recreated on every
// QueryRequest.
type state struct {
	queryNumber int64
	phase Phase

	myContribution wire.ValueContribution

	// proxyValues / acceptedProxyValues / signedProxyValues are keyed by
	// ValueTuple.Key() so structural-equality dedup is a
	// plain map lookup rather than a linear scan.
	proxyValues map[string]wire.ValueContribution
	acceptedProxyValues map[string]wire.ValueContribution
	signedProxyValues map[string]wire.SignedValue

	// relayMessages holds the inner onion layers a high-failure-tolerant
	// relay has unwrapped and must now flood toward their real proxy.
	relayMessages []wire.OverlayMessage

	// Aggregate phase accumulator.
	aggInitialized bool
	aggVector fixedpoint.Vector
	aggNumContributors int
	childrenNeeded int
	childrenReceived int

	futureAggregationMessages []wire.AggregationMessage

	signatureReceived bool // Byzantine: whether this meter's blind signature for this query has arrived
	pendingUnblinder crypto.Unblinder // Byzantine: set while awaiting a SignatureResponse
}

func newState(queryNumber int64) *state {
	return &state{
		queryNumber: queryNumber,
		phase: PhaseSetup,
		proxyValues: make(map[string]wire.ValueContribution),
		acceptedProxyValues: make(map[string]wire.ValueContribution),
		signedProxyValues: make(map[string]wire.SignedValue),
	}
}
