package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aktagon/image-harvester/internal/chain"
)

// Metrics counts chain activity and run totals for a Prometheus textfile
// collector.
type Metrics struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	health   *prometheus.GaugeVec
	images   *prometheus.GaugeVec
	bytes    prometheus.Gauge
	elapsed  prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_harvester",
			Name:      "chain_attempts_total",
			Help:      "Strategy attempts by chain, strategy and outcome.",
		}, []string{"chain", "strategy", "outcome"}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "image_harvester",
			Name:      "chain_strategy_health",
			Help:      "Strategy health: 0 healthy, 1 degraded, 2 disabled.",
		}, []string{"chain", "strategy"}),
		images: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "image_harvester",
			Name:      "images",
			Help:      "Images in the last run by state.",
		}, []string{"state"}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "image_harvester",
			Name:      "downloaded_bytes",
			Help:      "Bytes downloaded in the last run.",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "image_harvester",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	m.registry.MustRegister(m.attempts, m.health, m.images, m.bytes, m.elapsed)
	return m
}

// ObserveAttempt implements chain.Observer.
func (m *Metrics) ObserveAttempt(chainName, strategy string, o chain.Outcome) {
	m.attempts.WithLabelValues(chainName, strategy, string(o)).Inc()
}

// ObserveHealth implements chain.Observer.
func (m *Metrics) ObserveHealth(chainName, strategy string, h chain.Health) {
	m.health.WithLabelValues(chainName, strategy).Set(float64(h))
}

// Record copies run totals and final strategy health.
func (m *Metrics) Record(s *RunSummary) {
	m.images.WithLabelValues("downloaded").Set(float64(s.Downloaded))
	m.images.WithLabelValues("failed").Set(float64(s.Failed))
	m.images.WithLabelValues("classified").Set(float64(s.Classified))
	m.images.WithLabelValues("unresolved").Set(float64(s.Unresolved))
	m.images.WithLabelValues("converted").Set(float64(s.Converted))
	m.bytes.Set(float64(s.Bytes))
	m.elapsed.Set(s.Elapsed.Seconds())
	for name, statuses := range s.Chains {
		for _, st := range statuses {
			m.health.WithLabelValues(name, st.Name).Set(float64(st.Health))
		}
	}
}

// WriteFile writes the text exposition format atomically.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
