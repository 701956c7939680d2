// Package metrics exposes the process-wide Prometheus counters a meter
// or utility process registers for operational visibility: overlay
// round throughput, dropped messages by cause, and query outcomes.
// Grounded on the pack's churn telemetry module (etalazz-vsa's
// internal/ratelimiter/telemetry/churn), which registers a small fixed
// set of global counters/gauges and exposes them over promhttp rather
// than threading a metrics client through every call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	roundsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pddm_overlay_rounds_completed_total",
		Help: "Total overlay rounds completed across all active phases.",
	})
	messagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pddm_overlay_messages_dropped_total",
		Help: "Total inbound overlay messages dropped, by reason.",
	}, []string{"reason"})
	queriesFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pddm_queries_finished_total",
		Help: "Total queries that reached quorum or majority and produced a result.",
	})
	queriesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pddm_queries_failed_total",
		Help: "Total queries that ended without a quorum or majority result.",
	})
	stalledRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pddm_overlay_stalled_rounds_total",
		Help: "Total rounds a meter ended while its gossip predecessor was marked failed.",
	})
)

func init() {
	prometheus.MustRegister(roundsCompleted, messagesDropped, queriesFinished, queriesFailed, stalledRounds)
}

// RoundCompleted records one overlay round ending, in any phase.
func RoundCompleted() { roundsCompleted.Inc() }

// MessageDropped records one inbound overlay message dropped for reason
// (e.g. "wrong_gossip_partner", "stale_round", "stale_query").
func MessageDropped(reason string) { messagesDropped.WithLabelValues(reason).Inc() }

// QueryFinished records a query that produced a result.
func QueryFinished() { queriesFinished.Inc() }

// QueryFailed records a query that ended without quorum or majority.
func QueryFailed() { queriesFailed.Inc() }

// StalledRound records one round a meter ended while waiting on a
// gossip predecessor already marked failed.
func StalledRound() { stalledRounds.Inc() }

// Handler returns the http.Handler serving the registered metrics,
// for a process to mount at /metrics.
func Handler() http.Handler { return promhttp.Handler() }
