// Package metrics exposes pipeline counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"mindfulchat/internal/chat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mindfulchat"

// Metrics implements chat.Recorder on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	remote   prometheus.Histogram
	inflight prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Submissions by terminal outcome.",
		}, []string{"outcome"}),
		remote: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_seconds",
			Help:      "Latency of remote assistant calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "Remote assistant calls in flight.",
		}),
	}
	m.registry.MustRegister(
		m.outcomes, m.remote, m.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, o := range chat.Outcomes() {
		m.outcomes.WithLabelValues(string(o))
	}
	return m
}

func (m *Metrics) Outcome(outcome chat.Outcome) {
	m.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) RemoteDone(d time.Duration) {
	m.remote.Observe(d.Seconds())
}

func (m *Metrics) Inflight(delta int) {
	m.inflight.Add(float64(delta))
}

// Gauge registers a gauge sampled from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
