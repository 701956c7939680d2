// Package crypto defines the Crypto capability the core consumes:
// named RSA operations, including the blind-signature sub-protocol
// used by the Byzantine variant. It is built directly on crypto/rsa
// and math/big, since no off-the-shelf RSA blind-signature library was
// found (see DESIGN.md), the same way PriFi's own dcnet/neff_trustee
// code drops to raw abstract.Scalar/abstract.Point math when no
// higher-level primitive exists.
package crypto

import "go.dedis.ch/pddm/wire"

// Capability is the set of cryptographic operations a meter or the
// utility calls, named after the wire operations they back.
type Capability interface {
	RSAEncrypt(msg []byte, recipientID int) ([]byte, error)
	RSADecrypt(msg []byte) ([]byte, error)
	RSASign(payload []byte) (wire.Signature, error)
	RSAVerify(payload []byte, sig wire.Signature, signerID int) bool

	// Blind-signature sub-protocol.
	RSABlind(tuple wire.ValueTuple) (blob []byte, unblinder Unblinder, err error)
	RSASignBlinded(blob []byte) ([]byte, error)
	RSAUnblind(blob []byte, unblinder Unblinder) (wire.Signature, error)

	// RSAVerifyBlindSignature checks a signature produced by the blind-
	// signature sub-protocol. It is a distinct operation from RSAVerify
	// because RSAUnblind yields a raw (unpadded) RSA signature - the
	// multiplicative blinding homomorphism that makes blind signing work
	// at all does not survive PSS padding - so ordinary RSAVerify cannot
	// check it.
	RSAVerifyBlindSignature(tuple wire.ValueTuple, sig wire.Signature, signerID int) bool
}

// Unblinder is the per-blinding-operation secret factor needed to
// unblind a signature; it never leaves the meter that created it. The
// utility only ever sees the blinded blob, never the unblinder.
type Unblinder interface{}
