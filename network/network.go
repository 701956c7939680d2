// Package network defines the Network capability the core consumes:
// typed sends that report reachability, and async delivery dispatched
// back into the meter/utility actor. Physical transport (sockets,
// event loop, serialization) is explicitly out of scope; this package
// only has the interfaces plus an in-memory simulated network for
// tests and the batch CLI, grounded on PriFi's own simnet-free unit
// tests and its channel-based message plumbing.
package network

import (
	"go.dedis.ch/pddm/wire"
)

// SendResult is returned by every Send call.
type SendResult int

const (
	Ok SendResult = iota
	Unreachable
)

// MeterNetwork is what a meter calls to reach the network.
type MeterNetwork interface {
	SendOverlayBatch(batch []wire.OverlayTransportMessage, recipientID int) SendResult
	SendAggregation(msg wire.AggregationMessage, recipientID int) SendResult
	SendPing(msg wire.PingMessage, recipientID int) SendResult
	SendSignatureRequest(msg wire.SignatureRequest, recipientID int) SendResult
}

// UtilityNetwork is what the utility calls to reach the network.
type UtilityNetwork interface {
	SendQuery(q wire.QueryRequest, recipientID int) SendResult
	SendSignatureResponse(resp wire.SignatureResponse, recipientID int) SendResult
}

// Receiver is the dispatch surface a meter or the utility exposes to
// the network.
type Receiver interface {
	DeliverOverlayBatch(senderID int, batch []wire.OverlayTransportMessage)
	DeliverAggregation(msg wire.AggregationMessage)
	DeliverPing(msg wire.PingMessage)
	DeliverQueryRequest(q wire.QueryRequest)
	DeliverSignatureRequest(msg wire.SignatureRequest)
	DeliverSignatureResponse(resp wire.SignatureResponse)
}
