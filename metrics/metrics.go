// Package metrics exposes billing operation counters and latencies to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/estate-billing/billing"
)

const (
	metricPrefix = "estate_billing_"

	resultSuccess  = "success"
	resultRejected = "rejected"
	resultError    = "error"
)

// Metrics implements billing.Metrics and records import, export and cache
// activity of the API layer.
type Metrics struct {
	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	rejections       *prometheus.CounterVec
	exports          *prometheus.CounterVec
	exportLatency    *prometheus.HistogramVec
	statementRows    *prometheus.CounterVec
	tariffCache      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var _ billing.Metrics = (*Metrics)(nil)

// New registers the collectors on registry. A nil registry gets a fresh one,
// so tests and multiple servers in one process never collide.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "operations_total",
				Help: "Workflow operations by operation and result",
			},
			[]string{"op", "result"},
		),
		operationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "operation_latency_seconds",
				Help:    "Workflow operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rejections_total",
				Help: "Rejected workflow operations by operation and reason",
			},
			[]string{"op", "reason"},
		),
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Document exports by format and result",
			},
			[]string{"format", "result"},
		),
		exportLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Document export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		),
		statementRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_rows_total",
				Help: "Imported bank statement rows by classification",
			},
			[]string{"kind"},
		),
		tariffCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tariff_cache_total",
				Help: "Tariff cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		gatherer: registry,
	}

	for _, c := range []prometheus.Collector{
		m.operations, m.operationLatency, m.rejections,
		m.exports, m.exportLatency, m.statementRows, m.tariffCache,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveOperation records one workflow operation.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := resultSuccess
	switch {
	case billing.IsRejection(err):
		result = resultRejected
		m.rejections.WithLabelValues(op, rejectionReason(err)).Inc()
	case err != nil:
		result = resultError
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.operationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveExport records one rendered document.
func (m *Metrics) ObserveExport(format string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	m.exports.WithLabelValues(format, result).Inc()
	m.exportLatency.WithLabelValues(format).Observe(elapsed.Seconds())
}

// ObserveStatement records the classification counts of an imported statement.
func (m *Metrics) ObserveStatement(matched, unmatched, invalid int) {
	if m == nil {
		return
	}
	m.statementRows.WithLabelValues("matched").Add(float64(matched))
	m.statementRows.WithLabelValues("unmatched").Add(float64(unmatched))
	m.statementRows.WithLabelValues("invalid").Add(float64(invalid))
}

// ObserveTariffCache records a tariff cache hit or miss.
func (m *Metrics) ObserveTariffCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.tariffCache.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, billing.ErrPeriodLocked):
		return "locked"
	case errors.Is(err, billing.ErrFuturePeriod):
		return "future"
	case errors.Is(err, billing.ErrUnlockNotConfirmed):
		return "unconfirmed"
	case errors.Is(err, billing.ErrInvalidTransition):
		return "transition"
	default:
		return "other"
	}
}
