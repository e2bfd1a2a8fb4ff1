// Package metrics exposes the arbiter's Prometheus collectors (spec §7
// "metrics counters (arbiter_errors, polyswarm_settled, etc.)"). Grounded on
// the teacher's pkg/metrics package: a private registry, package-level
// collectors registered in init, and small Record* helpers rather than a
// dynamic label-sanitizing recorder, since the arbiter's metric set is fixed
// and known up front.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the arbiter's Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	arbiterErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "errors_total",
			Help:      "Count of classified errors encountered, by component and error class.",
		},
		[]string{"component", "class"},
	)

	polyswarmSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "polyswarm_settled_total",
			Help:      "Count of bounties successfully settled on-chain.",
		},
		[]string{"outcome"},
	)

	jobSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "jobengine",
			Name:      "submissions_total",
			Help:      "Count of artifact submissions to analysis backends, by backend and outcome.",
		},
		[]string{"backend", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arbiter",
			Subsystem: "jobengine",
			Name:      "submission_duration_seconds",
			Help:      "Duration of a submit_artifact call to an analysis backend.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"backend"},
	)

	backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arbiter",
			Subsystem: "jobengine",
			Name:      "backend_healthy",
			Help:      "Health of a configured analysis backend (1 healthy, 0 otherwise).",
		},
		[]string{"backend"},
	)

	votePhaseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "scheduler",
			Name:      "phase_outcomes_total",
			Help:      "Count of vote/reveal/settle phase attempts, by phase and outcome.",
		},
		[]string{"phase", "outcome"},
	)

	bountiesAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "scheduler",
			Name:      "bounties_aborted_total",
			Help:      "Count of bounties abandoned after exhausting retry strikes, by phase.",
		},
		[]string{"phase"},
	)
)

func init() {
	Registry.MustRegister(
		arbiterErrors,
		polyswarmSettled,
		jobSubmissions,
		jobDuration,
		backendHealth,
		votePhaseOutcomes,
		bountiesAborted,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordError increments arbiter_errors for component/class. class should be
// one of the apperr taxonomy names (transient, permanent, notfound,
// integrity, config) so dashboards line up with the error taxonomy.
func RecordError(component, class string) {
	if component == "" {
		component = "unknown"
	}
	if class == "" {
		class = "unknown"
	}
	arbiterErrors.WithLabelValues(component, class).Inc()
}

// RecordSettled increments polyswarm_settled_total for a completed on-chain
// settlement. outcome is typically "safe", "malicious", or "dontknow".
func RecordSettled(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	polyswarmSettled.WithLabelValues(outcome).Inc()
}

// RecordJobSubmission records a backend submit_artifact outcome and its
// wall-clock duration. status is one of "done", "pending", "failed".
func RecordJobSubmission(backend, status string, d time.Duration) {
	if backend == "" {
		backend = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	jobSubmissions.WithLabelValues(backend, status).Inc()
	if d < 0 {
		d = 0
	}
	jobDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordBackendHealth sets the backend_healthy gauge from a health_check
// result.
func RecordBackendHealth(backend string, healthy bool) {
	if backend == "" {
		backend = "unknown"
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	backendHealth.WithLabelValues(backend).Set(v)
}

// RecordPhaseOutcome records a vote/reveal/settle attempt outcome. outcome is
// one of "success", "transient", "permanent".
func RecordPhaseOutcome(phase, outcome string) {
	if phase == "" {
		phase = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	votePhaseOutcomes.WithLabelValues(phase, outcome).Inc()
}

// RecordBountyAborted increments bounties_aborted_total for phase after a
// bounty exhausts its retry strikes (spec §4.6 three-strikes policy).
func RecordBountyAborted(phase string) {
	if phase == "" {
		phase = "unknown"
	}
	bountiesAborted.WithLabelValues(phase).Inc()
}
