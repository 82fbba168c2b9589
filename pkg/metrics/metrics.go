// Package metrics reports operation counters to a pluggable backend.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reporter receives operation telemetry. Implementations must be safe
// for concurrent use; parallel workers report without coordination.
type Reporter interface {
	OperationStarted(kind, strategy string)
	RowsProcessed(accepted, rejected int64)
	BatchPersisted(rows int, elapsed time.Duration)
	OperationFinished(kind string, elapsed time.Duration, err error)
}

// Noop discards all telemetry.
type Noop struct{}

func (Noop) OperationStarted(string, string)                {}
func (Noop) RowsProcessed(int64, int64)                     {}
func (Noop) BatchPersisted(int, time.Duration)              {}
func (Noop) OperationFinished(string, time.Duration, error) {}

// Prometheus reports through prometheus collectors.
type Prometheus struct {
	operations   *prometheus.CounterVec
	strategies   *prometheus.CounterVec
	rows         *prometheus.CounterVec
	batchRows    prometheus.Histogram
	batchSeconds prometheus.Histogram
	opSeconds    *prometheus.HistogramVec
}

// NewPrometheus registers the collectors on reg. A nil registerer uses
// the default one.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabflow_operations_total",
			Help: "Operations by kind and status.",
		}, []string{"kind", "status"}),
		strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabflow_strategy_selections_total",
			Help: "Execution plan selections by kind and strategy.",
		}, []string{"kind", "strategy"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabflow_rows_total",
			Help: "Rows processed by outcome.",
		}, []string{"outcome"}),
		batchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabflow_batch_rows",
			Help:    "Rows per persisted batch.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10),
		}),
		batchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabflow_batch_persist_seconds",
			Help:    "Batch persistence latency.",
			Buckets: prometheus.DefBuckets,
		}),
		opSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabflow_operation_seconds",
			Help:    "End-to-end operation latency by kind.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"kind"}),
	}
	reg.MustRegister(p.operations, p.strategies, p.rows, p.batchRows, p.batchSeconds, p.opSeconds)
	return p
}

func (p *Prometheus) OperationStarted(kind, strategy string) {
	p.operations.WithLabelValues(kind, "started").Inc()
	p.strategies.WithLabelValues(kind, strategy).Inc()
}

func (p *Prometheus) RowsProcessed(accepted, rejected int64) {
	p.rows.WithLabelValues("accepted").Add(float64(accepted))
	p.rows.WithLabelValues("rejected").Add(float64(rejected))
}

func (p *Prometheus) BatchPersisted(rows int, elapsed time.Duration) {
	p.batchRows.Observe(float64(rows))
	p.batchSeconds.Observe(elapsed.Seconds())
}

func (p *Prometheus) OperationFinished(kind string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.operations.WithLabelValues(kind, status).Inc()
	p.opSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}
