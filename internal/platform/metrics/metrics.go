// Package metrics exposes Prometheus counters for submissions,
// classifications, summary fallbacks and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/neuroscribe/internal/domain/patient"
)

const namespace = "neuroscribe"

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	submissions      prometheus.Counter
	classifications  *prometheus.CounterVec
	summaryFallbacks prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Patient submissions accepted.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Completed classifications by predicted label.",
		}, []string{"label"}),
		summaryFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_fallbacks_total",
			Help:      "Submissions that received the fallback summary text.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.classifications,
		m.summaryFallbacks,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Attach exports record counts for store and counts its completed
// classifications. The returned func stops the counting; the gauges stay
// registered.
func (m *Metrics) Attach(store *patient.Store) (detach func()) {
	for _, st := range []patient.Status{patient.StatusProcessing, patient.StatusComplete, patient.StatusError} {
		st := st
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "records",
			Help:        "Stored patient records by status.",
			ConstLabels: prometheus.Labels{"status": string(st)},
		}, func() float64 { return float64(store.CountByStatus(st)) }))
	}

	return store.Subscribe(func(rec patient.PatientRecord) {
		m.classifications.WithLabelValues(rec.Prediction.OrElse("unknown")).Inc()
	})
}

// SubmissionAccepted implements patient.SubmissionRecorder.
func (m *Metrics) SubmissionAccepted(patient.PatientRecord) {
	m.submissions.Inc()
}

// SummaryFallback counts a fallback summary. Its signature matches
// summary.OnFallback.
func (m *Metrics) SummaryFallback(error) {
	m.summaryFallbacks.Inc()
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
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
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
