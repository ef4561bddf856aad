// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the keeper.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cycle metrics
	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	CyclesInFlight      prometheus.Gauge
	LastSuccessfulCycle prometheus.Gauge

	// Scan metrics
	VaultsScanned   prometheus.Counter
	CandidatesFound prometheus.Counter
	VaultsSkipped   prometheus.Counter
	ScanErrors      prometheus.Counter

	// Execution metrics
	OutcomesTotal *prometheus.CounterVec
	HealthFactor  prometheus.Histogram

	// Chain metrics
	RPCCallLatency   *prometheus.HistogramVec
	RPCCallErrors    *prometheus.CounterVec
	KeeperAuthorized prometheus.Gauge

	// Recording metrics
	RecordDuration *prometheus.HistogramVec
	RecordErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "vault_keeper"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Cycle metrics
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of keeper cycles by status",
		}, []string{"status"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Keeper cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		CyclesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "in_flight",
			Help:      "Number of cycles currently running",
		}),
		LastSuccessfulCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last completed cycle",
		}),

		// Scan metrics
		VaultsScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "vaults_total",
			Help:      "Total number of vaults in the registry across scans",
		}),
		CandidatesFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "candidates_total",
			Help:      "Total number of vaults that passed the cheap filter",
		}),
		VaultsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "skipped_total",
			Help:      "Total number of vaults rejected by the cheap filter",
		}),
		ScanErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "errors_total",
			Help:      "Total number of failed page or vault reads",
		}),

		// Execution metrics
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "outcomes_total",
			Help:      "Total number of processed candidates by terminal state",
		}, []string{"state"}),
		HealthFactor: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "health_factor",
			Help:      "Computed health factors in percent",
			Buckets:   []float64{50, 100, 125, 150, 175, 200, 300, 500, 1000},
		}),

		// Chain metrics
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed JSON-RPC calls",
		}, []string{"method"}),
		KeeperAuthorized: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "keeper_authorized",
			Help:      "1 once the keeper address was verified on the ledger",
		}),

		// Recording metrics
		RecordDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "record",
			Name:      "duration_seconds",
			Help:      "Time spent writing cycle results by sink",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		RecordErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "record",
			Name:      "errors_total",
			Help:      "Total number of failed writes by sink",
		}, []string{"sink"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// CycleStarted marks a cycle as in flight.
func (m *Metrics) CycleStarted() {
	if m == nil {
		return
	}
	m.CyclesInFlight.Inc()
}

// CycleFinished records a finished cycle.
func (m *Metrics) CycleFinished(status string, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.CyclesInFlight.Dec()
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(duration.Seconds())
	if status == "COMPLETED" {
		m.LastSuccessfulCycle.Set(float64(finishedAt.Unix()))
	}
}

// RecordScan records the counters of one scan.
func (m *Metrics) RecordScan(vaults uint64, candidates, skipped, scanErrors int) {
	if m == nil {
		return
	}
	m.VaultsScanned.Add(float64(vaults))
	m.CandidatesFound.Add(float64(candidates))
	m.VaultsSkipped.Add(float64(skipped))
	m.ScanErrors.Add(float64(scanErrors))
}

// RecordOutcome records a candidate's terminal state.
func (m *Metrics) RecordOutcome(state string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(state).Inc()
}

// RecordHealthFactor records a computed health factor.
func (m *Metrics) RecordHealthFactor(percent float64) {
	if m == nil {
		return
	}
	m.HealthFactor.Observe(percent)
}

// RecordRPC records RPC call latency and failures.
func (m *Metrics) RecordRPC(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// SetAuthorized updates the keeper authorization gauge.
func (m *Metrics) SetAuthorized(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.KeeperAuthorized.Set(1)
	} else {
		m.KeeperAuthorized.Set(0)
	}
}

// RecordSink records a write to a result sink (store or event bus).
func (m *Metrics) RecordSink(sink string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.RecordDuration.WithLabelValues(sink).Observe(elapsed.Seconds())
	if err != nil {
		m.RecordErrors.WithLabelValues(sink).Inc()
	}
}
