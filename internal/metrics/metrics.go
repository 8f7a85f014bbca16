// Package metrics provides Prometheus metrics for the pipeline engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	StageMoves           *prometheus.CounterVec
	OpportunitiesClosed  *prometheus.CounterVec
	LeadConversions      *prometheus.CounterVec
	RottingOpportunities *prometheus.GaugeVec
	WorkflowTriggers     *prometheus.CounterVec
	RottingSweepDuration prometheus.Histogram
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry under the given namespace
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		StageMoves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "opportunity",
				Name:      "stage_moves_total",
				Help:      "Total number of opportunity stage moves by resulting status",
			},
			[]string{"status"},
		),

		OpportunitiesClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "opportunity",
				Name:      "closed_total",
				Help:      "Total number of opportunities closed by outcome",
			},
			[]string{"status"},
		),

		LeadConversions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lead",
				Name:      "conversions_total",
				Help:      "Total number of lead conversion attempts by outcome",
			},
			[]string{"outcome"},
		),

		RottingOpportunities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "opportunity",
				Name:      "rotting",
				Help:      "Open opportunities currently rotting, by pipeline",
			},
			[]string{"pipeline_id"},
		),

		WorkflowTriggers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "triggers_total",
				Help:      "Total number of workflow triggers by event and status",
			},
			[]string{"event", "status"},
		),

		RottingSweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "rotting_sweep_duration_seconds",
				Help:      "Duration of rotting sweeps in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordStageMove(status string) {
	if m == nil {
		return
	}
	m.StageMoves.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordClose(status string) {
	if m == nil {
		return
	}
	m.OpportunitiesClosed.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordConversion(outcome string) {
	if m == nil {
		return
	}
	m.LeadConversions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWorkflowTrigger(event, status string) {
	if m == nil {
		return
	}
	m.WorkflowTriggers.WithLabelValues(event, status).Inc()
}

// SetRotting publishes the rotting count of one pipeline
func (m *Metrics) SetRotting(pipelineID string, count int) {
	if m == nil {
		return
	}
	m.RottingOpportunities.WithLabelValues(pipelineID).Set(float64(count))
}

func (m *Metrics) ObserveRottingSweep(seconds float64) {
	if m == nil {
		return
	}
	m.RottingSweepDuration.Observe(seconds)
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
