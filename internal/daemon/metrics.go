package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and histograms for proxnixd.
type Metrics struct {
	registry            *prometheus.Registry
	pipelineRunsTotal    *prometheus.CounterVec
	pipelineDuration     prometheus.Histogram
	planActionsTotal     *prometheus.CounterVec
	healthTickTotal      *prometheus.CounterVec
	webhookRequestsTotal *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pipelineRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxnix",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by result.",
		},
		[]string{"result"},
	)
	pipelineDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "proxnix",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a full pipeline run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)
	planActionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxnix",
			Subsystem: "plan",
			Name:      "actions_total",
			Help:      "Total number of plan actions executed by phase.",
		},
		[]string{"phase"},
	)
	healthTickTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxnix",
			Subsystem: "health",
			Name:      "tick_total",
			Help:      "Total number of health loop ticks by result.",
		},
		[]string{"result"},
	)
	webhookRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxnix",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total number of webhook requests by response status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		pipelineRunsTotal,
		pipelineDuration,
		planActionsTotal,
		healthTickTotal,
		webhookRequestsTotal,
	)

	return &Metrics{
		registry:             registry,
		pipelineRunsTotal:    pipelineRunsTotal,
		pipelineDuration:     pipelineDuration,
		planActionsTotal:     planActionsTotal,
		healthTickTotal:      healthTickTotal,
		webhookRequestsTotal: webhookRequestsTotal,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncPipelineRun(result string) {
	if m == nil {
		return
	}
	m.pipelineRunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePipelineDuration(seconds float64) {
	if m == nil || seconds < 0 {
		return
	}
	m.pipelineDuration.Observe(seconds)
}

func (m *Metrics) AddPlanActions(phase string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.planActionsTotal.WithLabelValues(phase).Add(float64(n))
}

func (m *Metrics) IncHealthTick(result string) {
	if m == nil {
		return
	}
	m.healthTickTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncWebhookRequest(status string) {
	if m == nil {
		return
	}
	m.webhookRequestsTotal.WithLabelValues(status).Inc()
}
