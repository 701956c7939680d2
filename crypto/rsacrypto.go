package crypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/pkg/errors"
	"go.dedis.ch/pddm/wire"
)

// KeyRing resolves a meter id to its RSA public key, the way
// <public-key-folder>/pubkey_<id>.der does on disk. Loading
// DER files from disk is the CLI's job (cmd/*); KeyRing only needs the
// resolved keys.
type KeyRing interface {
	PublicKey(id int) (*rsa.PublicKey, error)
}

// RSACapability is the concrete Crypto capability backed by a single
// node's own RSA-2048 keypair plus a KeyRing of peers' public keys.
type RSACapability struct {
	selfID int
	privateKey *rsa.PrivateKey
	peers KeyRing

	mu sync.Mutex
}

// NewRSACapability builds a Capability for a node holding privateKey,
// resolving other parties' public keys through peers.
func NewRSACapability(selfID int, privateKey *rsa.PrivateKey, peers KeyRing) *RSACapability {
	return &RSACapability{selfID: selfID, privateKey: privateKey, peers: peers}
}

// RSAEncrypt hybrid-encrypts msg for recipientID: a fresh AES-256-GCM key
// seals msg, and that key is the only thing actually RSA-OAEP wrapped.
// A plain RSA-OAEP envelope caps out around 190 bytes per 2048-bit key,
// far short of a re-encrypted onion layer from an earlier hop, so
// messages of unbounded size need the AES key indirection.
func (c *RSACapability) RSAEncrypt(msg []byte, recipientID int) ([]byte, error) {
	pub, err := c.peers.PublicKey(recipientID)
	if err != nil {
		return nil, errors.Wrapf(err, "rsa encrypt: resolving public key of %d", recipientID)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "rsa encrypt: generating session key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "rsa encrypt: building cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "rsa encrypt: building gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "rsa encrypt: generating nonce")
	}
	sealed := gcm.Seal(nil, nonce, msg, nil)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rsa encrypt: wrapping session key")
	}

	var out []byte
	out = binary.LittleEndian.AppendUint64(out, uint64(len(wrappedKey)))
	out = append(out, wrappedKey...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// RSADecrypt reverses RSAEncrypt: unwrap the session key with the node's
// own private key, then open the AES-GCM envelope.
func (c *RSACapability) RSADecrypt(msg []byte) ([]byte, error) {
	if len(msg) < 8 {
		return nil, errors.New("rsa decrypt: message too short")
	}
	keyLen := binary.LittleEndian.Uint64(msg[:8])
	rest := msg[8:]
	if uint64(len(rest)) < keyLen {
		return nil, errors.New("rsa decrypt: truncated wrapped key")
	}
	wrappedKey, rest := rest[:keyLen], rest[keyLen:]

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.privateKey, wrappedKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rsa decrypt: unwrapping session key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "rsa decrypt: building cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "rsa decrypt: building gcm")
	}
	if len(rest) < gcm.NonceSize() {
		return nil, errors.New("rsa decrypt: truncated nonce")
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rsa decrypt: opening envelope")
	}
	return pt, nil
}

func (c *RSACapability) RSASign(payload []byte) (wire.Signature, error) {
	var out wire.Signature
	h := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, h[:], nil)
	if err != nil {
		return out, errors.Wrap(err, "rsa sign")
	}
	if len(sig) != wire.SignatureLength {
		return out, errors.Errorf("rsa sign: unexpected signature length %d", len(sig))
	}
	copy(out[:], sig)
	return out, nil
}

func (c *RSACapability) RSAVerify(payload []byte, sig wire.Signature, signerID int) bool {
	pub, err := c.peers.PublicKey(signerID)
	if err != nil {
		return false
	}
	h := sha256.Sum256(payload)
	return rsa.VerifyPSS(pub, crypto.SHA256, h[:], sig[:], nil) == nil
}

// blindState is the Unblinder returned by RSABlind: the random blinding
// factor r, kept only by the meter that performed the blinding.
type blindState struct {
	r *big.Int
	n *big.Int
}

// RSABlind implements textbook RSA blinding against the utility's
// public key: given message hash m, picks random r coprime to N and
// returns blob = m * r^e mod N. The utility signs blob "blind" (it
// never learns m); RSAUnblind later divides out r^-1.
func (c *RSACapability) RSABlind(tuple wire.ValueTuple) ([]byte, Unblinder, error) {
	utilityPub, err := c.peers.PublicKey(-1)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rsa blind: resolving utility public key")
	}

	h := sha256.Sum256(tupleBytes(tuple))
	m := new(big.Int).SetBytes(h[:])
	n := utilityPub.N
	e := big.NewInt(int64(utilityPub.E))

	var r *big.Int
	for {
		var err error
		r, err = rand.Int(rand.Reader, n)
		if err != nil {
			return nil, nil, errors.Wrap(err, "rsa blind: generating blinding factor")
		}
		if r.Sign() != 0 && new(big.Int).GCD(nil, nil, r, n).Cmp(big.NewInt(1)) == 0 {
			break
		}
	}

	rE := new(big.Int).Exp(r, e, n)
	blinded := new(big.Int).Mod(new(big.Int).Mul(m, rE), n)

	return blinded.Bytes(), &blindState{r: r, n: n}, nil
}

// RSASignBlinded is called by the utility: it raises the opaque blob to
// its private exponent (raw, unpadded RSA, unlike the PSS signatures
// RSASign produces) and never sees the unblinded value.
func (c *RSACapability) RSASignBlinded(blob []byte) ([]byte, error) {
	blinded := new(big.Int).SetBytes(blob)
	d := c.privateKey.D
	n := c.privateKey.N
	signed := new(big.Int).Exp(blinded, d, n)
	return signed.Bytes(), nil
}

// RSAUnblind divides out the blinding factor: sig = signed * r^-1 mod N,
// which equals the utility's raw (unpadded) RSA signature over the
// original tuple's hash, as checked by RSAVerifyBlindSignature; it is not
// a PSS signature and RSAVerify does not accept it.
func (c *RSACapability) RSAUnblind(blob []byte, unblinder Unblinder) (wire.Signature, error) {
	var out wire.Signature
	state, ok := unblinder.(*blindState)
	if !ok {
		return out, errors.New("rsa unblind: wrong unblinder type")
	}
	signed := new(big.Int).SetBytes(blob)
	rInv := new(big.Int).ModInverse(state.r, state.n)
	if rInv == nil {
		return out, errors.New("rsa unblind: blinding factor not invertible")
	}
	sig := new(big.Int).Mod(new(big.Int).Mul(signed, rInv), state.n)
	sigBytes := sig.Bytes()
	if len(sigBytes) > wire.SignatureLength {
		return out, errors.New("rsa unblind: signature longer than expected")
	}
	copy(out[wire.SignatureLength-len(sigBytes):], sigBytes)
	return out, nil
}

// RSAVerifyBlindSignature checks sig against tuple's hash using raw
// (unpadded) RSA verification: sig^e mod N must equal sha256(tuple)
// interpreted as an integer, matching the scheme RSABlind/RSASignBlinded/
// RSAUnblind implement.
func (c *RSACapability) RSAVerifyBlindSignature(tuple wire.ValueTuple, sig wire.Signature, signerID int) bool {
	pub, err := c.peers.PublicKey(signerID)
	if err != nil {
		return false
	}
	h := sha256.Sum256(tupleBytes(tuple))
	m := new(big.Int).SetBytes(h[:])

	s := new(big.Int).SetBytes(sig[:])
	e := big.NewInt(int64(pub.E))
	recovered := new(big.Int).Exp(s, e, pub.N)
	return recovered.Cmp(m) == 0
}

func tupleBytes(v wire.ValueTuple) []byte {
	b := make([]byte, 0, 16+len(v.Measurements)*8+len(v.Proxies)*8)
	appendInt64 := func(x int64) {
		for i := 0; i < 8; i++ {
			b = append(b, byte(x>>(56-8*i)))
		}
	}
	appendInt64(v.QueryNumber)
	for _, m := range v.Measurements {
		appendInt64(int64(m))
	}
	for _, p := range v.Proxies {
		appendInt64(int64(p))
	}
	return b
}
