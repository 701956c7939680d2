package overlay

import (
	"testing"

	"go.dedis.ch/pddm/crypto"
	"go.dedis.ch/pddm/network"
	"go.dedis.ch/pddm/timer"
	"go.dedis.ch/pddm/wire"
)

// recordingHandler is a minimal PhaseHandler that records every message
// it receives and how many times its phase ended.
type recordingHandler struct {
	received []wire.OverlayMessage
	ended int
}

func (h *recordingHandler) HandleMessage(msg wire.OverlayMessage) { h.received = append(h.received, msg) }
func (h *recordingHandler) OnPhaseEnd() { h.ended++ }

// driverReceiver adapts a RoundDriver to network.Receiver for the
// overlay-only unit tests in this package; real meters add the
// remaining handlers in the meter package.
type driverReceiver struct {
	driver *RoundDriver
}

func (r *driverReceiver) DeliverOverlayBatch(senderID int, batch []wire.OverlayTransportMessage) {
	r.driver.DeliverOverlayBatch(senderID, batch)
}
func (r *driverReceiver) DeliverPing(msg wire.PingMessage) { r.driver.DeliverPing(msg) }
func (r *driverReceiver) DeliverAggregation(msg wire.AggregationMessage) {}
func (r *driverReceiver) DeliverQueryRequest(q wire.QueryRequest) {}
func (r *driverReceiver) DeliverSignatureRequest(msg wire.SignatureRequest) {}
func (r *driverReceiver) DeliverSignatureResponse(resp wire.SignatureResponse) {}

func TestRoundDriverDeliversDirectMessageWithinLog2NRounds(t *testing.T) {
	n := 7
	net := network.NewSimNetwork()
	sim := timer.NewSimService()

	drivers := make([]*RoundDriver, n)
	handlers := make([]*recordingHandler, n)
	for i := 0; i < n; i++ {
		drivers[i] = NewRoundDriver(i, n, net, sim, nopCrypter{}, 100)
		handlers[i] = &recordingHandler{}
		net.Register(i, &driverReceiver{driver: drivers[i]})
	}

	rounds := ceilLog2(n) + 2
	for i := 0; i < n; i++ {
		drivers[i].StartPhase(1, rounds, handlers[i])
	}
	drivers[0].Enqueue(wire.OverlayMessage{
		QueryNumber: 1,
		Destination: 2,
		Body: wire.OverlayMessageBody{Type: wire.BodyString, Str: "hello"},
	})

	for r := 0; r < rounds; r++ {
		net.Pump()
		sim.Advance(100)
		net.Pump()
	}

	if len(handlers[2].received) != 1 {
		t.Fatalf("meter 2 received %d messages, want 1: %+v", len(handlers[2].received), handlers[2].received)
	}
	if handlers[2].received[0].Body.Str != "hello" {
		t.Fatalf("unexpected payload: %+v", handlers[2].received[0])
	}
	for i := 0; i < n; i++ {
		if handlers[i].ended != 1 {
			t.Fatalf("meter %d phase ended %d times, want 1", i, handlers[i].ended)
		}
	}
}

func TestStalledRoundsCountsRoundsEndedAfterPredecessorFails(t *testing.T) {
	n := 5
	net := network.NewSimNetwork()
	sim := timer.NewSimService()

	drivers := make([]*RoundDriver, n)
	handlers := make([]*recordingHandler, n)
	for i := 0; i < n; i++ {
		drivers[i] = NewRoundDriver(i, n, net, sim, nopCrypter{}, 100)
		handlers[i] = &recordingHandler{}
		net.Register(i, &driverReceiver{driver: drivers[i]})
	}
	net.Fail(Predecessor(2, 0, n))

	rounds := 3
	for i := 0; i < n; i++ {
		drivers[i].StartPhase(1, rounds, handlers[i])
	}
	for r := 0; r < rounds; r++ {
		net.Pump()
		sim.Advance(100)
		net.Pump()
	}

	if drivers[2].StalledRounds() == 0 {
		t.Fatal("expected at least one stalled round once meter 2's predecessor failed")
	}
}

// nopCrypter satisfies crypto.Capability for tests that never exercise
// onion encryption directly.
type nopCrypter struct{}

func (nopCrypter) RSAEncrypt(msg []byte, recipientID int) ([]byte, error) { return msg, nil }
func (nopCrypter) RSADecrypt(msg []byte) ([]byte, error) { return msg, nil }
func (nopCrypter) RSASign(payload []byte) (wire.Signature, error) { return wire.Signature{}, nil }
func (nopCrypter) RSAVerify(payload []byte, sig wire.Signature, signerID int) bool { return true }
func (nopCrypter) RSABlind(tuple wire.ValueTuple) ([]byte, crypto.Unblinder, error) {
	return nil, nil, nil
}
func (nopCrypter) RSASignBlinded(blob []byte) ([]byte, error) { return blob, nil }
func (nopCrypter) RSAUnblind(blob []byte, unblinder crypto.Unblinder) (wire.Signature, error) {
	return wire.Signature{}, nil
}
func (nopCrypter) RSAVerifyBlindSignature(tuple wire.ValueTuple, sig wire.Signature, signerID int) bool {
	return true
}
