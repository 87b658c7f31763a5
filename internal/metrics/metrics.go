// Package metrics defines the Prometheus instruments exported by the sync
// engine. Counters are registered on the default registry and served by the
// web package's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsSyncedTotal counts play events durably inserted, excluding
	// deduplicated replays.
	EventsSyncedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrobblesync_events_synced_total",
			Help: "Total number of play events inserted",
		},
	)

	// EventsDedupedTotal counts fetched events dropped by the (track,
	// played-at) uniqueness gate.
	EventsDedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrobblesync_events_deduped_total",
			Help: "Total number of fetched play events already present",
		},
	)

	// APICallsTotal counts outbound remote API calls by service.
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblesync_api_calls_total",
			Help: "Total number of remote API calls",
		},
		[]string{"service"},
	)

	// MatchOutcomesTotal counts catalog match attempts by outcome.
	MatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblesync_match_outcomes_total",
			Help: "Total number of catalog match attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ChunkErrorsTotal counts chunk-level sync failures.
	ChunkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrobblesync_chunk_errors_total",
			Help: "Total number of failed sync chunks",
		},
	)

	// SyncRunsTotal counts orchestrator runs by terminal status.
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrobblesync_runs_total",
			Help: "Total number of sync runs by terminal status",
		},
		[]string{"status"},
	)
)

// Match outcome label values.
const (
	OutcomeMatched   = "matched"
	OutcomeNoMatch   = "no_match"
	OutcomeCollision = "collision"
	OutcomeError     = "error"
)

// RecordAPICall increments the call counter for a remote service.
func RecordAPICall(service string) {
	APICallsTotal.WithLabelValues(service).Inc()
}

// RecordMatchOutcome increments the match counter for an outcome label.
func RecordMatchOutcome(outcome string) {
	MatchOutcomesTotal.WithLabelValues(outcome).Inc()
}
