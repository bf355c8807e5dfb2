// Package metrics exposes the collector's Prometheus counters and gauges,
// grounded on the same explicit registry + typed-field struct shape used
// elsewhere in the retrieved pack for health/metrics surfaces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every metric the collector's HTTP surface and admission
// pipeline update.
type Collector struct {
	registry *prometheus.Registry

	submitsTotal     *prometheus.CounterVec
	submitDuration   *prometheus.HistogramVec
	rowsStoredTotal  prometheus.Counter
	agentsRegistered prometheus.Gauge
}

// New builds a Collector with its own registry, so the caller decides
// whether and how to expose it (the server package wires it to /metrics).
func New() *Collector {
	m := &Collector{registry: prometheus.NewRegistry()}

	m.submitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logagg_submits_total",
		Help: "Total /submit requests, labeled by outcome.",
	}, []string{"outcome"})

	m.submitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logagg_submit_duration_seconds",
		Help:    "Latency of the admission pipeline per /submit request.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	m.rowsStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logagg_rows_stored_total",
		Help: "Total batches durably admitted.",
	})

	m.agentsRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logagg_agents_registered",
		Help: "Current count of distinct registered agent_ids.",
	})

	m.registry.MustRegister(m.submitsTotal, m.submitDuration, m.rowsStoredTotal, m.agentsRegistered)
	return m
}

// Registry returns the Prometheus registry backing this Collector's metrics,
// for mounting on a promhttp handler.
func (m *Collector) Registry() *prometheus.Registry { return m.registry }

// ObserveSubmit records one /submit outcome and its pipeline latency.
func (m *Collector) ObserveSubmit(outcome string, seconds float64) {
	m.submitsTotal.WithLabelValues(outcome).Inc()
	m.submitDuration.WithLabelValues(outcome).Observe(seconds)
	if outcome == "admitted" {
		m.rowsStoredTotal.Inc()
	}
}

// SetAgentsRegistered sets the current distinct-agent gauge.
func (m *Collector) SetAgentsRegistered(n float64) {
	m.agentsRegistered.Set(n)
}
