// Package config holds the process-wide configuration of a PDDM node:
// the network size, the derived failure-tolerance constant, and the
// protocol variant. It replaces the source's global FAILURES_TOLERATED
// with a struct threaded through component construction.
package config

import (
	"math"

	"github.com/pkg/errors"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/pddm/errs"
)

// Variant selects which of the three protocol variants a
// deployment runs. The core is generic over it rather than branching on
// a runtime string's "re-architect as a sum type" note.
type Variant int

const (
	// Byzantine tolerates malicious meters via blind signatures and
	// Crusader Agreement.
	Byzantine Variant = iota
	// CrashTolerant tolerates only crash failures via Echo.
	CrashTolerant
	// HighFailureTolerant trades a larger t for flood-based Scatter/Gather.
	HighFailureTolerant
)

func (v Variant) String() string {
	switch v {
	case Byzantine:
		return "Byzantine"
	case CrashTolerant:
		return "CrashTolerant"
	case HighFailureTolerant:
		return "HighFailureTolerant"
	default:
		return "Unknown"
	}
}

// UtilityID is the fixed identifier of the utility node.
const UtilityID = -1

// CryptoSuite is the DEDIS kyber suite used for deterministic, seeded
// randomness inside the core (proxy selection).
// It is never used to produce the protocol's RSA signatures - those
// come from the crypto.Capability the core consumes.
var CryptoSuite = edwards25519.NewBlakeSHA256Ed25519()

// Config is the per-process configuration, built once at startup and
// passed by value/pointer to every component - never a mutable global.
type Config struct {
	N int // number of meters; must be prime
	T int // failure-tolerance constant, derived from N and Variant
	Variant Variant

	RoundTimeout int // milliseconds, default 100
	NetworkRTTimeout int // milliseconds, NETWORK_ROUNDTRIP_TIMEOUT
}

// New validates N and Variant and derives T and the boundary
// behavior ("if t >= N/2, setup fails").
func New(n int, variant Variant) (*Config, error) {
	if !isPrime(n) {
		return nil, errors.Wrapf(errs.ConfigurationError, "N=%d is not prime", n)
	}

	var t int
	switch variant {
	case Byzantine, CrashTolerant:
		t = int(math.Ceil(math.Log2(float64(n))))
	case HighFailureTolerant:
		t = int(math.Round(0.1 * float64(n)))
	default:
		return nil, errors.Wrapf(errs.ConfigurationError, "unknown variant %v", variant)
	}

	if 2*t >= n {
		return nil, errors.Wrapf(errs.ConfigurationError, "t=%d >= N/2 (N=%d), cannot guarantee quorum", t, n)
	}

	return &Config{
		N: n,
		T: t,
		Variant: variant,
		RoundTimeout: 100,
		NetworkRTTimeout: 200,
	}, nil
}

// Log2N returns ceil(log2(N)), used throughout for phase lengths.
func (c *Config) Log2N() int {
	return int(math.Ceil(math.Log2(float64(c.N))))
}

// Groups returns G, the number of aggregation groups.
func (c *Config) Groups() int {
	if c.Variant == Byzantine {
		return 2*c.T + 1
	}
	return c.T + 1
}

// QuorumThreshold returns the number of AggregationMessages the utility
// must collect before ending a query.
func (c *Config) QuorumThreshold() int {
	if c.Variant == Byzantine {
		return 2 * c.T
	}
	return c.T
}

// ShufflePhaseRounds returns the number of overlay rounds for Shuffle/Scatter.
func (c *Config) ShufflePhaseRounds() int {
	l := c.Log2N()
	switch c.Variant {
	case CrashTolerant:
		return c.T + 2*l + 1
	case Byzantine:
		return 2*c.T + l*l + 1
	case HighFailureTolerant:
		return l + c.T
	}
	return 0
}

// SecondPhaseRounds returns the number of rounds for Echo/Gather/Agreement.
func (c *Config) SecondPhaseRounds() int {
	l := c.Log2N()
	switch c.Variant {
	case CrashTolerant:
		return c.T + 2*l + 1
	case Byzantine:
		return 2*c.T + l*l + 1
	case HighFailureTolerant:
		return l + c.T
	}
	return 0
}

// RoundsForQuery returns the watchdog round budget for one query.
func (c *Config) RoundsForQuery() int {
	l := float64(c.Log2N())
	n := float64(c.N)
	g := float64(c.Groups())
	switch c.Variant {
	case Byzantine:
		return int(6*float64(c.T) + 3*l*l + 3 + math.Ceil(math.Log2(n/g)))
	case HighFailureTolerant:
		return int(2*l + 2*float64(c.T) + math.Ceil(math.Log2(n/g)))
	case CrashTolerant:
		return int(2*float64(c.T) + 4*l + 2 + math.Ceil(math.Log2(n/g)))
	}
	return 0
}

// DeterministicXOF derives a seeded, reproducible randomness stream for
// a given (queryNumber, meterID) pair, used by pick_proxies. Mirrors PriFi's own
// config.CryptoSuite.Cipher([]byte(name)) / XOF(seed) idiom.
func DeterministicXOF(queryNumber int64, meterID int, label string) kyber.XOF {
	seed := make([]byte, 0, len(label)+16)
	seed = append(seed, []byte(label)...)
	seed = appendInt64(seed, queryNumber)
	seed = appendInt64(seed, int64(meterID))
	return CryptoSuite.XOF(seed)
}

func appendInt64(b []byte, v int64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(56-8*i)))
	}
	return b
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for i := 3; i*i <= n; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}
