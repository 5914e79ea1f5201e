// Package metrics exposes tangram's Prometheus registry and the
// /healthz endpoint. Grounded on cuemby-warren/pkg/metrics/metrics.go
// (package-level metric vars, init-time MustRegister, promhttp.Handler,
// Timer helper), generalized from a container-orchestrator's metric
// set to a live-tracking backend's.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChannelSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tangram_channel_sessions_active",
			Help: "Currently open channel multiplexer sessions",
		},
	)

	ChannelFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_channel_frames_total",
			Help: "Total channel frames processed by direction and event",
		},
		[]string{"direction", "event"},
	)

	RawRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_raw_records_total",
			Help: "Total raw surveillance records processed by outcome",
		},
		[]string{"outcome"},
	)

	StateVectorsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tangram_state_vectors_active",
			Help: "Distinct identifiers with a live state vector",
		},
	)

	HistoryFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tangram_history_flush_duration_seconds",
			Help:    "Time taken to flush a history table's buffer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	HistoryFlushFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_history_flush_failures_total",
			Help: "Total consecutive-counted history flush failures by table",
		},
		[]string{"table"},
	)

	HistoryTableQuarantined = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tangram_history_table_quarantined",
			Help: "1 if a history table has been quarantined after repeated flush failures, else 0",
		},
		[]string{"table"},
	)

	HistoryOptimizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tangram_history_optimize_duration_seconds",
			Help:    "Time taken to compact a history table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	HistoryVacuumDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tangram_history_vacuum_duration_seconds",
			Help:    "Time taken to vacuum a history table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	ControlCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_control_commands_total",
			Help: "Total history control commands handled by type and result",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		ChannelSessionsActive,
		ChannelFramesTotal,
		RawRecordsTotal,
		StateVectorsActive,
		HistoryFlushDuration,
		HistoryFlushFailuresTotal,
		HistoryTableQuarantined,
		HistoryOptimizeDuration,
		HistoryVacuumDuration,
		ControlCommandsTotal,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports it to a labeled histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Checker reports one dependency's health for the /healthz endpoint.
type Checker func(ctx context.Context) error

// healthReport is the JSON body returned by HealthzHandler.
type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthzHandler runs every named checker and reports 200 if all pass,
// 503 with the failing checks named otherwise.
func HealthzHandler(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		report := healthReport{Status: "ok", Checks: make(map[string]string, len(checks))}

		for name, check := range checks {
			if err := check(ctx); err != nil {
				report.Status = "degraded"
				report.Checks[name] = err.Error()
			} else {
				report.Checks[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}
