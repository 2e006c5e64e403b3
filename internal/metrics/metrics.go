package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/auditweb/internal/audit"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auditweb",
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Number of audit run attempts by outcome.",
		}, []string{"outcome"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "auditweb",
			Subsystem: "audit",
			Name:      "run_duration_seconds",
			Help:      "Wall time of audit script invocations that were spawned.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"},
	)
	lastExitCode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auditweb",
			Subsystem: "audit",
			Name:      "last_exit_code",
			Help:      "Exit code of the most recent completed audit run.",
		},
	)
	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auditweb",
			Subsystem: "audit",
			Name:      "runs_in_flight",
			Help:      "Audit runs currently executing.",
		},
	)
	reportsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auditweb",
			Subsystem: "reports",
			Name:      "deleted_total",
			Help:      "Number of report files removed by clear requests.",
		},
	)
	clears = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auditweb",
			Subsystem: "reports",
			Name:      "clears_total",
			Help:      "Number of clear requests served.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runs, runDuration, lastExitCode, inflight, reportsDeleted, clears}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveRun(outcome string, exitCode int, seconds float64, spawned bool) {
	if !regOK.Load() {
		return
	}
	runs.WithLabelValues(outcome).Inc()
	if spawned {
		runDuration.WithLabelValues(outcome).Observe(seconds)
	}
	if outcome == audit.OutcomeSuccess || outcome == audit.OutcomeNonZeroExit {
		lastExitCode.Set(float64(exitCode))
	}
}

func IncInflight() {
	if regOK.Load() {
		inflight.Inc()
	}
}

func DecInflight() {
	if regOK.Load() {
		inflight.Dec()
	}
}

func ObserveClear(deleted int) {
	if regOK.Load() {
		clears.Inc()
		reportsDeleted.Add(float64(deleted))
	}
}

// RunHook records every audit run attempt.
func RunHook(_ context.Context, res audit.Result, err error) {
	outcome := audit.Outcome(res, err)
	spawned := outcome != audit.OutcomeNotFound && res.Duration > 0
	ObserveRun(outcome, res.ExitCode, res.Duration.Seconds(), spawned)
}
