package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chronicle"

// Metrics holds the collectors of one process, registered on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal           *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec
	runsInFlight        prometheus.Gauge
	graphEvents         prometheus.Histogram
	contradictionsTotal *prometheus.CounterVec
	violationsTotal     *prometheus.CounterVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "runs",
			Name:        "total",
			Help:        "Chronology runs by final status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "runs",
			Name:        "duration_seconds",
			Help:        "Chronology run duration in seconds by final status.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "runs",
			Name:        "in_flight",
			Help:        "Number of chronology runs being processed.",
			ConstLabels: constLabels,
		},
	)
	graphEvents := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "graph",
			Name:        "events",
			Help:        "Events per validated evidence graph.",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
			ConstLabels: constLabels,
		},
	)
	contradictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "analysis",
			Name:        "contradictions_total",
			Help:        "Detected contradictions by category.",
			ConstLabels: constLabels,
		},
		[]string{"category"},
	)
	violationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "graph",
			Name:        "integrity_violations_total",
			Help:        "Integrity violations found by the validator, by invariant.",
			ConstLabels: constLabels,
		},
		[]string{"invariant"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(
		runsTotal,
		runDuration,
		runsInFlight,
		graphEvents,
		contradictionsTotal,
		violationsTotal,
		requestTotal,
		requestDuration,
	)

	return &Metrics{
		registry:            registry,
		runsTotal:           runsTotal,
		runDuration:         runDuration,
		runsInFlight:        runsInFlight,
		graphEvents:         graphEvents,
		contradictionsTotal: contradictionsTotal,
		violationsTotal:     violationsTotal,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StartRun() {
	m.runsInFlight.Inc()
}

func (m *Metrics) FinishRun(status string, duration time.Duration) {
	m.runsInFlight.Dec()
	if status == "" {
		status = "unknown"
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) ObserveGraph(events int) {
	m.graphEvents.Observe(float64(events))
}

func (m *Metrics) RecordContradictions(byCategory map[string]int) {
	for category, n := range byCategory {
		if n > 0 {
			m.contradictionsTotal.WithLabelValues(category).Add(float64(n))
		}
	}
}

func (m *Metrics) RecordViolation(invariant string) {
	m.violationsTotal.WithLabelValues(invariant).Inc()
}

// Middleware records request counts and latency keyed by the route template,
// so ids in the path do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			m.requestTotal.WithLabelValues(c.Request().Method, path, status).Inc()
			m.requestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
