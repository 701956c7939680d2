package utility

import (
	"testing"

	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/fixedpoint"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/wire"
)

// recordingBlindSigner counts RSASignBlinded calls; every other
// Capability method is unused by DeliverSignatureRequest.
type recordingBlindSigner struct {
	signCount int
}

func (r *recordingBlindSigner) RSAEncrypt(msg []byte, recipientID int) ([]byte, error) { return msg, nil }
func (r *recordingBlindSigner) RSADecrypt(msg []byte) ([]byte, error) { return msg, nil }
func (r *recordingBlindSigner) RSASign(payload []byte) (wire.Signature, error) { return wire.Signature{}, nil }
func (r *recordingBlindSigner) RSAVerify(payload []byte, sig wire.Signature, signerID int) bool {
	return true
}
func (r *recordingBlindSigner) RSABlind(tuple wire.ValueTuple) ([]byte, crypto.Unblinder, error) {
	return nil, nil, nil
}
func (r *recordingBlindSigner) RSASignBlinded(blob []byte) ([]byte, error) {
	r.signCount++
	return blob, nil
}
func (r *recordingBlindSigner) RSAUnblind(blob []byte, unblinder crypto.Unblinder) (wire.Signature, error) {
	return wire.Signature{}, nil
}
func (r *recordingBlindSigner) RSAVerifyBlindSignature(tuple wire.ValueTuple, sig wire.Signature, signerID int) bool {
	return true
}

// noopNetwork discards every send, reporting Ok.
type noopNetwork struct{}

func (noopNetwork) SendQuery(q wire.QueryRequest, recipientID int) network.SendResult {
	return network.Ok
}
func (noopNetwork) SendSignatureResponse(resp wire.SignatureResponse, recipientID int) network.SendResult {
	return network.Ok
}

func TestValidateBatchRejectsNegativeAndDuplicateQueryNumbers(t *testing.T) {
	err := validateBatch([]wire.QueryRequest{
		{QueryNumber: -1},
		{QueryNumber: 3},
		{QueryNumber: 3},
	})
	if err == nil {
		t.Fatal("expected an error for a negative and a duplicate query_number")
	}
}

func TestValidateBatchAcceptsWellFormedBatch(t *testing.T) {
	err := validateBatch([]wire.QueryRequest{
		{QueryNumber: 0},
		{QueryNumber: 1},
		{QueryNumber: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error for a well-formed batch: %v", err)
	}
}

func TestMajorityEqualResultPicksFirstValueReachingThreshold(t *testing.T) {
	cfg, err := config.New(7, config.Byzantine)
	if err != nil {
		t.Fatal(err)
	}
	c := &Coordinator{cfg: cfg}

	minority := fixedpoint.Vector{fixedpoint.FromFloat(1)}
	majority := fixedpoint.Vector{fixedpoint.FromFloat(2)}

	c.results = []wire.AggregationMessage{
		{SenderID: 0, Body: minority},
		{SenderID: 1, Body: majority},
		{SenderID: 2, Body: majority},
		{SenderID: 3, Body: majority},
	}

	winner := c.majorityEqualResult()
	if winner == nil {
		t.Fatal("expected a majority-equal winner")
	}
	if !winner.Body.Equal(majority) {
		t.Fatalf("expected the majority body to win, got %v", winner.Body)
	}
}

func TestMajorityEqualResultReturnsNilBelowThreshold(t *testing.T) {
	cfg, err := config.New(7, config.Byzantine)
	if err != nil {
		t.Fatal(err)
	}
	c := &Coordinator{cfg: cfg}

	c.results = []wire.AggregationMessage{
		{SenderID: 0, Body: fixedpoint.Vector{fixedpoint.FromFloat(1)}},
		{SenderID: 1, Body: fixedpoint.Vector{fixedpoint.FromFloat(2)}},
	}

	if winner := c.majorityEqualResult(); winner != nil {
		t.Fatalf("expected no winner below threshold t+1=%d, got %v", cfg.T+1, winner)
	}
}

func TestHighestContributorResultPicksLargestCount(t *testing.T) {
	c := &Coordinator{results: []wire.AggregationMessage{
		{SenderID: 0, NumContributors: 2},
		{SenderID: 1, NumContributors: 5},
		{SenderID: 2, NumContributors: 3},
	}}

	winner := c.highestContributorResult()
	if winner == nil || winner.SenderID != 1 {
		t.Fatalf("expected sender 1 with 5 contributors to win, got %+v", winner)
	}
}

func TestHighestContributorResultReturnsNilWhenEmpty(t *testing.T) {
	c := &Coordinator{}
	if winner := c.highestContributorResult(); winner != nil {
		t.Fatalf("expected nil winner for no results, got %+v", winner)
	}
}

func TestDeliverSignatureRequestSignsAtMostOncePerQuery(t *testing.T) {
	cfg, err := config.New(7, config.Byzantine)
	if err != nil {
		t.Fatal(err)
	}
	crypter := &recordingBlindSigner{}
	c := &Coordinator{cfg: cfg, crypter: crypter, net: &noopNetwork{}, signedThisQuery: make(map[int]bool)}

	c.DeliverSignatureRequest(wire.SignatureRequest{SenderID: 4, Blob: []byte("blob")})
	c.DeliverSignatureRequest(wire.SignatureRequest{SenderID: 4, Blob: []byte("blob")})

	if crypter.signCount != 1 {
		t.Fatalf("expected exactly one blind signature for meter 4, got %d", crypter.signCount)
	}
}
