package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Narrative metrics
	Turns             *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	ObjectiveOutcomes *prometheus.CounterVec

	// Upstream provider metrics
	UpstreamErrors *prometheus.CounterVec
	ProxyRequests  *prometheus.CounterVec
}

// NewCollector creates a collector. Every call gets a fresh registry, so
// tests can build as many as they like.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "narrative_turns_total",
				Help:      "Narrative turns by result status",
			},
			[]string{"status"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "narrative_turn_duration_seconds",
				Help:      "Wall time of a narrative turn including the objective check",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
		),
		ObjectiveOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objective_checks_total",
				Help:      "Objective classifier outcomes",
			},
			[]string{"completed"},
		),
		UpstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Non-2xx answers from the chat provider",
			},
			[]string{"status_code"},
		),
		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Chat proxy requests by mode",
			},
			[]string{"stream"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.Turns,
		c.TurnDuration,
		c.ObjectiveOutcomes,
		c.UpstreamErrors,
		c.ProxyRequests,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTP records one finished HTTP request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveTurn records a narrative turn outcome.
func (c *Collector) ObserveTurn(status string, objectiveCompleted bool, elapsed time.Duration) {
	c.Turns.WithLabelValues(status).Inc()
	c.TurnDuration.Observe(elapsed.Seconds())
	if status == "success" {
		c.ObjectiveOutcomes.WithLabelValues(strconv.FormatBool(objectiveCompleted)).Inc()
	}
}

// ObserveUpstreamError counts a failed provider answer.
func (c *Collector) ObserveUpstreamError(statusCode int) {
	c.UpstreamErrors.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveProxy counts one chat proxy request.
func (c *Collector) ObserveProxy(stream bool) {
	c.ProxyRequests.WithLabelValues(strconv.FormatBool(stream)).Inc()
}
