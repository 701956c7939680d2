package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.dedis.ch/pddm/fixedpoint"
	"go.dedis.ch/pddm/wire"
)

type staticKeyRing struct {
	keys map[int]*rsa.PublicKey
}

func (s staticKeyRing) PublicKey(id int) (*rsa.PublicKey, error) {
	return s.keys[id], nil
}

func newTestPair() (meter *RSACapability, utility *RSACapability, err error) {
	meterKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	utilKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	ring := staticKeyRing{keys: map[int]*rsa.PublicKey{
		0: &meterKey.PublicKey,
		-1: &utilKey.PublicKey,
	}}
	meter = NewRSACapability(0, meterKey, ring)
	utility = NewRSACapability(-1, utilKey, ring)
	return meter, utility, nil
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	meter, _, err := newTestPair()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("measurement-payload")
	ct, err := meter.RSAEncrypt(plaintext, 0)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := meter.RSADecrypt(ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("decrypt(encrypt(m)) != m: got %q", pt)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	meter, _, err := newTestPair()
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("a-value-tuple")
	sig, err := meter.RSASign(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !meter.RSAVerify(payload, sig, 0) {
		t.Fatal("expected signature to verify")
	}
	if meter.RSAVerify([]byte("tampered"), sig, 0) {
		t.Fatal("expected tampered payload to fail verification")
	}
}

func TestBlindSignUnblindRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("unblind(sign_blinded(blind(v))) recovers a signature the utility can verify", prop.ForAll(
		func(n int64, vals []int64) bool {
			meter, utility, err := newTestPair()
			if err != nil {
				return false
			}
			tuple := wire.ValueTuple{QueryNumber: n, Measurements: toVector(vals), Proxies: []int{1, 2}}

			blob, unblinder, err := meter.RSABlind(tuple)
			if err != nil {
				return false
			}
			signedBlob, err := utility.RSASignBlinded(blob)
			if err != nil {
				return false
			}
			sig, err := meter.RSAUnblind(signedBlob, unblinder)
			if err != nil {
				return false
			}
			if len(sig) != wire.SignatureLength {
				return false
			}
			return meter.RSAVerifyBlindSignature(tuple, sig, -1)
		},
		gen.Int64Range(0, 1000),
		gen.SliceOf(gen.Int64Range(-100, 100)),
	))

	properties.TestingRun(t)
}

func toVector(vals []int64) fixedpoint.Vector {
	v := make(fixedpoint.Vector, len(vals))
	for i, x := range vals {
		v[i] = fixedpoint.Number(x)
	}
	return v
}
