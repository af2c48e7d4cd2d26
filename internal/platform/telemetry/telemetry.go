// Package telemetry exposes Prometheus metrics for HTTP traffic and the
// image analysis pipeline.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "triage"

// MetricsPath is where Handler is mounted. Requests to it are not counted.
const MetricsPath = "/metrics"

// Analysis outcomes.
const (
	OutcomeOK               = "ok"
	OutcomeDecodeError      = "decode_error"
	OutcomeModelUnavailable = "model_unavailable"
	OutcomeNarrativeError   = "narrative_error"
	OutcomeCancelled        = "cancelled"
	OutcomeError            = "error"
)

// Narrative results.
const (
	NarrativeGenerated = "generated"
	NarrativeDegraded  = "degraded"
	NarrativeFailed    = "failed"
)

type Config struct {
	ServiceName string
	Environment string
}

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge

	analyses         *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	narratives       *prometheus.CounterVec
}

func New(cfg Config) *Metrics {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "triage-server"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code.", ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "active_requests",
			Help: "Requests currently being served.", ConstLabels: labels,
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "analyses_total",
			Help: "Image analyses by outcome.", ConstLabels: labels,
		}, []string{"outcome"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "analysis_duration_seconds",
			Help: "Time from image bytes to anomalies, including model load.", ConstLabels: labels,
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		narratives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "narratives_total",
			Help: "Narrative requests by result.", ConstLabels: labels,
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.activeRequests,
		m.analyses, m.analysisDuration, m.narratives,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records one sample per request, labelled by route pattern so
// ids in the path do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.Path == MetricsPath {
				return next(c)
			}
			m.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			m.activeRequests.Dec()
			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// ObserveAnalysis records one pass of preprocessing and classification.
func (m *Metrics) ObserveAnalysis(outcome string, d time.Duration) {
	m.analyses.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.analysisDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveNarrative(result string) {
	m.narratives.WithLabelValues(result).Inc()
}

// RegisterPool exports connection pool gauges.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	gauge := func(name, help string, fn func(s *pgxpool.Stat) float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db", Name: name, Help: help,
		}, func() float64 { return fn(pool.Stat()) }))
	}
	gauge("pool_total_conns", "Connections in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
	gauge("pool_acquired_conns", "Connections checked out.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("pool_idle_conns", "Idle connections.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
}

// RegisterModelState exports whether the classifier model is loaded.
func (m *Metrics) RegisterModelState(ready func() bool) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "model_loaded",
		Help: "1 when the classifier model is loaded.",
	}, func() float64 {
		if ready() {
			return 1
		}
		return 0
	}))
}
