// Package metrics exposes Prometheus instrumentation for the duel engine.
// A custom registry keeps the scrape surface limited to what the engine
// actually reports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// SubmissionsTotal counts intake decisions, labeled ACCEPT/FLAG/REJECT.
	SubmissionsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "duel",
		Name:      "submissions_total",
		Help:      "Performance submissions processed, by final decision.",
	}, []string{"decision"})

	// SubmissionSeconds times the synchronous intake pipeline.
	SubmissionSeconds = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "arena",
		Subsystem: "duel",
		Name:      "submission_seconds",
		Help:      "Latency of the submission intake pipeline.",
		Buckets:   prometheus.DefBuckets,
	})

	// DuelsCompleted and DuelsExpired count terminal transitions.
	DuelsCompleted = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "duel",
		Name:      "completed_total",
		Help:      "Duels resolved with a winner (including default wins).",
	})
	DuelsExpired = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "duel",
		Name:      "expired_total",
		Help:      "Duels expired at deadline without resolution.",
	})

	// MatchesTotal counts produced pairings by queue mode.
	MatchesTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "matchmaking",
		Name:      "matches_total",
		Help:      "Matches produced, by mode.",
	}, []string{"mode"})

	// QueueDepth tracks outstanding tickets per queue.
	QueueDepth = promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arena",
		Subsystem: "matchmaking",
		Name:      "queue_depth",
		Help:      "Outstanding matchmaking tickets, by mode.",
	}, []string{"mode"})

	// TicketsExpired counts tickets purged past their TTL.
	TicketsExpired = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "matchmaking",
		Name:      "tickets_expired_total",
		Help:      "Matchmaking tickets expired unmatched, by mode.",
	}, []string{"mode"})

	// MatchWaitSeconds measures time from enqueue to pairing.
	MatchWaitSeconds = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "arena",
		Subsystem: "matchmaking",
		Name:      "match_wait_seconds",
		Help:      "Ticket wait time from enqueue to match.",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// Handler serves the custom registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
