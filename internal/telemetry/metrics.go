// Package telemetry provides Prometheus metrics for pipeline monitoring.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkItemsDispatched counts issued work items.
	// Labels: role, kind (build, bugfix)
	WorkItemsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "dispatch",
			Name:      "work_items_total",
			Help:      "Total number of work items dispatched",
		},
		[]string{"role", "kind"},
	)

	// WorkItemRetries counts re-dispatches after worker failure.
	WorkItemRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Total number of work item retries",
		},
		[]string{"role"},
	)

	// WaveDuration tracks wall time per wave.
	WaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "foundry",
			Subsystem: "dispatch",
			Name:      "wave_duration_seconds",
			Help:      "Duration of each wave from first dispatch to full resolution",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// MergesTotal counts integration merges.
	// Labels: result (merged, conflict, smoke_failed)
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "integrate",
			Name:      "merges_total",
			Help:      "Total number of integration merge attempts by result",
		},
		[]string{"result"},
	)

	// StageDuration tracks verification stage latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "foundry",
			Subsystem: "verify",
			Name:      "stage_duration_seconds",
			Help:      "Duration of verification stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// StageResults counts verification stage outcomes.
	// Labels: stage, result (pass, fail, blocking_fail)
	StageResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "verify",
			Name:      "stage_results_total",
			Help:      "Total number of verification stage results",
		},
		[]string{"stage", "result"},
	)

	// EscalationsTotal counts raised escalations by phase.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "retry",
			Name:      "escalations_total",
			Help:      "Total number of budget-exhausted escalations",
		},
		[]string{"phase"},
	)

	// QualityScore is the latest overall quality score for the run.
	QualityScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "foundry",
			Subsystem: "score",
			Name:      "overall",
			Help:      "Latest overall quality score (0-1)",
		},
	)

	// StoreDegraded indicates degraded (local-only) learning store mode.
	StoreDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "foundry",
			Subsystem: "patternbank",
			Name:      "degraded",
			Help:      "1 when the shared learning store is unreachable and local-only mode is active",
		},
	)
)
