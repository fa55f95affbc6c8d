// Package metrics implements ports.MetricsCollector with Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-cadmark/internal/ports"
)

const namespace = "cadmark"

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics routes the metric names used by the grading pipeline
// to dedicated Prometheus vectors. Names it does not know land in generic
// catch-all vectors labelled with the metric name, so new call sites are
// never silently dropped.
type PrometheusMetrics struct {
	extractionAttempts *prometheus.CounterVec
	extractions        *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	cadCalls           *prometheus.CounterVec
	circuitRejections  *prometheus.CounterVec
	events             *prometheus.CounterVec

	operationLatency *prometheus.HistogramVec
	cadCallLatency   *prometheus.HistogramVec
	scores           prometheus.Histogram
	observations     *prometheus.HistogramVec

	circuitState *prometheus.GaugeVec
	state        *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMetrics{
		extractionAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_attempts_total",
				Help:      "Export and read steps attempted, by stage and outcome.",
			},
			[]string{"stage", "status"},
		),
		extractions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Completed extractions, by final status.",
			},
			[]string{"status"},
		),
		submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Graded submissions, by status.",
			},
			[]string{"status"},
		),
		cadCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cad_calls_total",
				Help:      "Calls to external CAD tools, by operation and outcome.",
			},
			[]string{"op", "status"},
		),
		circuitRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cad_circuit_rejections_total",
				Help:      "CAD calls rejected by an open circuit breaker.",
			},
			[]string{"op"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Other pipeline events, by metric name.",
			},
			[]string{"metric", "status"},
		),

		operationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of pipeline operations.",
				// CAD exports take seconds to minutes.
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"operation", "status"},
		),
		cadCallLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cad_call_duration_seconds",
				Help:      "Duration of individual CAD tool calls.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"op", "status"},
		),
		scores: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submission_score",
				Help:      "Aggregate score of successfully graded submissions.",
				Buckets:   prometheus.LinearBuckets(0, 1.5, 11),
			},
		),
		observations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Other observed values, by metric name.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric"},
		),

		circuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cad_circuit_state",
				Help:      "Circuit breaker state: 0 closed, 1 open, 2 half open.",
			},
			[]string{"op"},
		),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current pipeline state values, by metric name.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.operationLatency.WithLabelValues(operation, label(labels, "status")).Observe(duration.Seconds())
}

// RecordCounter implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "extraction_attempts_total":
		pm.extractionAttempts.WithLabelValues(label(labels, "stage"), label(labels, "status")).Add(value)
	case "extractions_total":
		pm.extractions.WithLabelValues(label(labels, "status")).Add(value)
	case "submissions_total":
		pm.submissions.WithLabelValues(label(labels, "status")).Add(value)
	case "cad_calls_total":
		pm.cadCalls.WithLabelValues(label(labels, "op"), label(labels, "status")).Add(value)
	case "cad_circuit_rejections_total":
		pm.circuitRejections.WithLabelValues(label(labels, "op")).Add(value)
	default:
		pm.events.WithLabelValues(metric, label(labels, "status")).Add(value)
	}
}

// RecordGauge implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case "cad_circuit_state":
		pm.circuitState.WithLabelValues(label(labels, "op")).Set(value)
	default:
		pm.state.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "submission_score":
		pm.scores.Observe(value)
	case "cad_call_duration_seconds":
		pm.cadCallLatency.WithLabelValues(label(labels, "op"), label(labels, "status")).Observe(value)
	default:
		pm.observations.WithLabelValues(metric).Observe(value)
	}
}

func label(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return "unknown"
}
