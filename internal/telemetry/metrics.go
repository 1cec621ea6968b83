package telemetry

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "parkingsync"

var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Metrics holds the prometheus collectors for one process on a private registry.
type Metrics struct {
	registry           *prometheus.Registry
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	revenueTotal       prometheus.Counter
	replicationRows    *prometheus.GaugeVec
	lastSuccessfulSync prometheus.Gauge
	breakerState       prometheus.Gauge
}

// NewMetrics registers every collector, plus the Go and process collectors.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Generator actions, seed batches and replication cycles by outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time of generator actions and replication cycles",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"operation"},
		),
		revenueTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "revenue_total",
				Help:      "Sum of amounts billed on exit",
			},
		),
		replicationRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "replication_rows",
				Help:      "Rows in the last written snapshot by lifecycle state",
			},
			[]string{"state"},
		),
		lastSuccessfulSync: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "replication_last_success_timestamp_seconds",
				Help:      "Finish time of the last cycle that wrote its snapshot",
			},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "replication_breaker_state",
				Help:      "Analytical store circuit breaker: 0 closed, 1 half-open, 2 open",
			},
		),
	}
	metrics.registry.MustRegister(
		metrics.operationsTotal,
		metrics.operationDuration,
		metrics.revenueTotal,
		metrics.replicationRows,
		metrics.lastSuccessfulSync,
		metrics.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics
}

// LogOperation counts every operation record.
func (metrics *Metrics) LogOperation(_ context.Context, entry parking.OperationLog) {
	metrics.operationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Operation != parking.OperationSeed {
		metrics.operationDuration.WithLabelValues(entry.Operation).Observe(entry.Duration.Seconds())
	}
	if entry.Operation == parking.OperationExit && entry.Error == nil && entry.Amount > 0 {
		metrics.revenueTotal.Add(float64(entry.Amount.Int64()))
	}
}

// ObserveCycle records the row counts of a cycle that wrote its snapshot.
func (metrics *Metrics) ObserveCycle(report parking.CycleReport) {
	if !report.Succeeded() {
		return
	}
	metrics.replicationRows.WithLabelValues(string(parking.StateOpen)).Set(float64(report.OpenRows))
	metrics.replicationRows.WithLabelValues(string(parking.StateClosed)).Set(float64(report.ClosedRows))
	metrics.lastSuccessfulSync.Set(float64(report.FinishedAt.Unix()))
}

// BreakerStateChanged tracks circuit breaker transitions.
func (metrics *Metrics) BreakerStateChanged(_ string, to string) {
	if value, ok := breakerStates[to]; ok {
		metrics.breakerState.Set(value)
	}
}

// Handler serves the registry in the prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{Registry: metrics.registry})
}
