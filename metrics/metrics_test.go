package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRoundCompletedIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(roundsCompleted)
	RoundCompleted()
	after := testutil.ToFloat64(roundsCompleted)
	if after != before+1 {
		t.Fatalf("expected roundsCompleted to increase by 1, went %v -> %v", before, after)
	}
}

func TestMessageDroppedIncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(messagesDropped.WithLabelValues("stale_round"))
	MessageDropped("stale_round")
	after := testutil.ToFloat64(messagesDropped.WithLabelValues("stale_round"))
	if after != before+1 {
		t.Fatalf("expected messagesDropped{reason=stale_round} to increase by 1, went %v -> %v", before, after)
	}
}

func TestQueryFinishedAndFailedAreDistinctCounters(t *testing.T) {
	beforeFinished := testutil.ToFloat64(queriesFinished)
	beforeFailed := testutil.ToFloat64(queriesFailed)

	QueryFinished()

	if got := testutil.ToFloat64(queriesFinished); got != beforeFinished+1 {
		t.Fatalf("expected queriesFinished to increase by 1, got %v", got)
	}
	if got := testutil.ToFloat64(queriesFailed); got != beforeFailed {
		t.Fatalf("expected queriesFailed to stay at %v, got %v", beforeFailed, got)
	}
}

func TestStalledRoundIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(stalledRounds)
	StalledRound()
	after := testutil.ToFloat64(stalledRounds)
	if after != before+1 {
		t.Fatalf("expected stalledRounds to increase by 1, went %v -> %v", before, after)
	}
}

func TestHandlerServesRegisteredMetricNames(t *testing.T) {
	RoundCompleted()
	MessageDropped("wrong_gossip_partner")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading /metrics body: %v", err)
	}
	body := string(raw)

	for _, name := range []string{
		"pddm_overlay_rounds_completed_total",
		"pddm_overlay_messages_dropped_total",
		"pddm_queries_finished_total",
		"pddm_queries_failed_total",
		"pddm_overlay_stalled_rounds_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected /metrics output to mention %s", name)
		}
	}
}
