// Package errs defines the sentinel protocol error conditions a meter or
// the utility can report, wrapped with github.com/pkg/errors
// the way the rest of this module adds call-site context to them.
package errs

import "github.com/pkg/errors"

var (
	// PartnerUnreachable names the condition a network send reports as
	// network.Unreachable (the recipient cannot be reached); the network
	// capability itself returns a SendResult, not this error.
	PartnerUnreachable = errors.New("partner unreachable")

	// WrongQueryNumber marks an inbound message whose query number does
	// not match any query this node is tracking.
	WrongQueryNumber = errors.New("wrong query number")

	// WrongRound marks an inbound message whose sender_round does not
	// match the round it was delivered in.
	WrongRound = errors.New("wrong round")

	// WrongGossipPartner marks an inbound message whose claimed sender
	// is not this node's gossip predecessor for the claimed round.
	WrongGossipPartner = errors.New("wrong gossip partner")

	// InvalidSignature marks a signature that failed verification.
	InvalidSignature = errors.New("invalid signature")

	// InvalidMessageBody marks a message body that failed to decode or
	// whose type does not match what the receiving phase expects.
	InvalidMessageBody = errors.New("invalid message body")

	// PathNotFound is returned by the path finder when no node-disjoint
	// path to a target can be found within the round horizon.
	PathNotFound = errors.New("path not found")

	// QueryTimeout marks a query whose watchdog timer expired before
	// enough results arrived.
	QueryTimeout = errors.New("query timed out")

	// ConfigurationError marks a startup configuration that cannot
	// satisfy the protocol's guarantees.
	ConfigurationError = errors.New("configuration error")
)
