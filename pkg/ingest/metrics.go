package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "testoor_ingest_"

// Metrics records ingestion counters on a prometheus registry.
type Metrics struct {
	units       *prometheus.CounterVec
	rows        *prometheus.CounterVec
	runDuration prometheus.Histogram
	timeouts    prometheus.Counter
}

// NewMetrics registers the ingestion metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		units: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricsPrefix + "units_total",
				Help: "Number of executed units by table and status",
			},
			[]string{"table", "status"},
		),
		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricsPrefix + "rows_written_total",
				Help: "Number of rows committed by table",
			},
			[]string{"table"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricsPrefix + "run_duration_seconds",
				Help:    "Wall-clock time of one ingestion run",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
			},
		),
		timeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: metricsPrefix + "timeouts_total",
				Help: "Number of units abandoned at the run deadline",
			},
		),
	}
}

// RecordOutcome counts one unit outcome.
func (m *Metrics) RecordOutcome(o Outcome) {
	if m == nil {
		return
	}

	status := "success"
	if o.Err != nil {
		status = "failure"
	}

	m.units.WithLabelValues(o.Table, status).Inc()

	if o.Err == nil {
		m.rows.WithLabelValues(o.Table).Add(float64(o.Rows))
	}
}

// RecordRun observes a finished run.
func (m *Metrics) RecordRun(r *Report) {
	if m == nil {
		return
	}

	m.runDuration.Observe(r.Elapsed.Seconds())
	m.timeouts.Add(float64(r.TimedOut))
}

