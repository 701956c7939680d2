package overlay

import (
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/wire"
)

// BuildOnion wraps payload in nested single-hop RSA encryptions along
// path, innermost-first, so that each hop can only decrypt its own layer
// and learn only the next hop's identity. path must include the
// final destination but not the sender; it matches the path FindPaths
// returns for one target. The returned OverlayMessage is the outermost
// layer, addressed (in the clear, for gossip routing) to path[0]; its
// body is opaque ciphertext only path[0] can open.
func BuildOnion(path []int, payload wire.OverlayMessageBody, queryNumber int64, crypter crypto.Capability) (wire.OverlayMessage, error) {
	last := path[len(path)-1]
	currentMsg := wire.OverlayMessage{
		QueryNumber: queryNumber,
		Destination: last,
		IsEncrypted: true,
		Body: payload,
	}
	currentLayer, err := crypter.RSAEncrypt(wire.EncodeOverlayMessage(currentMsg), last)
	if err != nil {
		return wire.OverlayMessage{}, err
	}

	for i := len(path) - 2; i >= 0; i-- {
		hop := path[i]
		// nextMsg is what hop sees after peeling its own layer: it must
		// be addressed to the *following* hop (path[i+1]), in the clear,
		// so hop can tell this isn't final delivery and re-enqueue it for
		// forwarding instead of handing opaque ciphertext to its phase
		// handler.
		nextMsg := wire.OverlayMessage{
			QueryNumber: queryNumber,
			Destination: path[i+1],
			IsEncrypted: true,
			Body: wire.OverlayMessageBody{
				Type: wire.BodyString,
				Str: string(currentLayer),
			},
		}
		next, err := crypter.RSAEncrypt(wire.EncodeOverlayMessage(nextMsg), hop)
		if err != nil {
			return wire.OverlayMessage{}, err
		}
		currentLayer = next
	}

	return wire.OverlayMessage{
		QueryNumber: queryNumber,
		Destination: path[0],
		IsEncrypted: true,
		Body: wire.OverlayMessageBody{
			Type: wire.BodyString,
			Str: string(currentLayer),
		},
	}, nil
}

// PeelLayer decrypts one onion layer with the recipient's own key and
// returns the OverlayMessage it wraps. If that message's body is the
// string-wrapped ciphertext of a further layer (everyone but the last
// hop), the caller re-encrypts nothing; it simply forwards the raw
// ciphertext found in Body.Str to Destination, never re-deriving or
// inspecting what's inside it.
func PeelLayer(ciphertext []byte, crypter crypto.Capability) (wire.OverlayMessage, error) {
	plaintext, err := crypter.RSADecrypt(ciphertext)
	if err != nil {
		return wire.OverlayMessage{}, err
	}
	return wire.DecodeOverlayMessage(plaintext)
}

// BuildPathOverlayMessage wraps payload for unencrypted source routing
// along path: the returned envelope is addressed to path[0] and
// carries the remaining hops in RemainingPath; each intermediate hop
// pops one entry off RemainingPath and re-forwards, with no decryption
// step, until the path is exhausted and the payload is delivered.
func BuildPathOverlayMessage(path []int, payload wire.OverlayMessageBody, queryNumber int64) wire.OverlayMessage {
	inner := wire.PathOverlayMessage{
		Message: wire.OverlayMessage{QueryNumber: queryNumber, Body: payload},
		RemainingPath: append([]int(nil), path[1:]...),
	}
	return wire.OverlayMessage{
		QueryNumber: queryNumber,
		Destination: path[0],
		Body: wire.OverlayMessageBody{Type: wire.BodyPathOverlay, Path: &inner},
	}
}
