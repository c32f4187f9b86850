package hubhttp

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-statemachine/hub"
)

var (
	descHubHealthy = prometheus.NewDesc(
		"statemachine_hub_healthy",
		"Whether the hub and every supervised instance is healthy.",
		nil, nil,
	)
	descRegistered = prometheus.NewDesc(
		"statemachine_hub_registered_instances",
		"Number of machine instances registered with the hub.",
		[]string{"category"}, nil,
	)
	descUnhealthy = prometheus.NewDesc(
		"statemachine_hub_unhealthy_instances",
		"Number of unhealthy machine instances per category.",
		[]string{"category"}, nil,
	)
	descPending = prometheus.NewDesc(
		"statemachine_hub_pending_events",
		"Pending events queued across all registered instances.",
		nil, nil,
	)
	descActive = prometheus.NewDesc(
		"statemachine_hub_active_transitions",
		"Transitions currently executing across all registered instances.",
		nil, nil,
	)
)

// hubCollector exposes a hub status snapshot as Prometheus gauges. It is
// registered on a per-handler registry, never the global one.
type hubCollector struct {
	hub *hub.Hub
}

func (c *hubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descHubHealthy
	ch <- descRegistered
	ch <- descUnhealthy
	ch <- descPending
	ch <- descActive
}

func (c *hubCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.hub.Status()

	healthy := 0.0
	if st.Healthy {
		healthy = 1.0
	}
	ch <- prometheus.MustNewConstMetric(descHubHealthy, prometheus.GaugeValue, healthy)
	ch <- prometheus.MustNewConstMetric(descPending, prometheus.GaugeValue, float64(st.PendingEvents))
	ch <- prometheus.MustNewConstMetric(descActive, prometheus.GaugeValue, float64(st.ActiveTransitions))

	for category, health := range st.Categories {
		ch <- prometheus.MustNewConstMetric(descRegistered, prometheus.GaugeValue,
			float64(health.Total), category)
		ch <- prometheus.MustNewConstMetric(descUnhealthy, prometheus.GaugeValue,
			float64(health.Total-health.Healthy), category)
	}
}

// requestMetrics tracks the handler's own HTTP traffic.
type requestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newRequestMetrics(reg prometheus.Registerer) *requestMetrics {
	m := &requestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statemachine_http_requests_total",
			Help: "A count of HTTP requests served by the hub API.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statemachine_http_request_duration_seconds",
			Help:    "Time spent serving hub API requests.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}
