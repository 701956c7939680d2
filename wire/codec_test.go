package wire

import (
	"bytes"
	"testing"

	"go.dedis.ch/pddm/fixedpoint"
)

func sampleContribution() ValueContribution {
	return ValueContribution{
		Value: ValueTuple{
			QueryNumber: 7,
			Measurements: fixedpoint.Vector{fixedpoint.FromFloat(1.5), fixedpoint.FromFloat(-2)},
			Proxies: []int{1, 2, 3},
		},
	}
}

func TestEncodeDecodeSizedRoundTrip(t *testing.T) {
	contrib := sampleContribution()
	msgs := []OverlayTransportMessage{
		{
			SenderID: 4,
			SenderRound: 2,
			IsFinalMessage: true,
			Body: OverlayMessage{
				QueryNumber: 7,
				Destination: 1,
				Body: OverlayMessageBody{
					Type: BodyValueContribution,
					Contribution: &contrib,
				},
			},
		},
	}

	encoded := EncodeSized(msgs)
	decoded, err := DecodeSized(bytes.NewReader(encoded))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 message, got %d", len(decoded))
	}
	if !decoded[0].Body.Equal(msgs[0].Body) {
		t.Fatalf("round-trip mismatch: %+v != %+v", decoded[0].Body, msgs[0].Body)
	}
}

func TestEncodeDecodePathOverlayMessage(t *testing.T) {
	inner := OverlayMessage{QueryNumber: 3, Destination: 9, Body: OverlayMessageBody{Type: BodyNone}}
	path := &PathOverlayMessage{Message: inner, RemainingPath: []int{9, 4, 1}}
	outer := OverlayMessage{
		QueryNumber: 3,
		Destination: 9,
		Body: OverlayMessageBody{Type: BodyPathOverlay, Path: path},
	}
	msgs := []OverlayTransportMessage{{SenderID: 0, SenderRound: 0, IsFinalMessage: true, Body: outer}}

	encoded := EncodeSized(msgs)
	decoded, err := DecodeSized(bytes.NewReader(encoded))
	if err != nil {
		t.Fatal(err)
	}
	got := decoded[0].Body.Body.Path
	if !got.Equal(*path) {
		t.Fatalf("path round-trip mismatch: %+v != %+v", got, path)
	}
}

func TestOverlayMessageEqualityIsStructural(t *testing.T) {
	a := sampleContribution()
	b := sampleContribution()
	ma := OverlayMessage{QueryNumber: 1, Destination: 2, Body: OverlayMessageBody{Type: BodyValueContribution, Contribution: &a}}
	mb := OverlayMessage{QueryNumber: 1, Destination: 2, Body: OverlayMessageBody{Type: BodyValueContribution, Contribution: &b}}
	if !ma.Equal(mb) {
		t.Fatal("expected structurally-equal messages built from distinct pointers to compare equal")
	}
}
