// Package metrics holds process-wide HTTP metrics for the receipt service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds HTTP and receipt ingestion collectors.
type Metrics struct {
	Requests         *prometheus.CounterVec
	EndpointLatency  *prometheus.HistogramVec
	ReceiptsIngested *prometheus.CounterVec
	NoncesIssued     prometheus.Counter
	RateLimit        *prometheus.CounterVec
}

// New creates and registers HTTP metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "klaro_geo_http_requests_total",
			Help: "HTTP requests, labeled by route, method and status",
		}, []string{"route", "method", "status"}),
		EndpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klaro_geo_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, labeled by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ReceiptsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "klaro_geo_receipts_ingested_total",
			Help: "Receipt submissions, labeled by outcome",
		}, []string{"outcome"}),
		NoncesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "klaro_geo_nonces_issued_total",
			Help: "Nonces issued for receipt submissions",
		}),
		RateLimit: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "klaro_geo_rate_limit_decisions_total",
			Help: "Rate limiter decisions on receipt submissions, labeled by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncIngested(outcome string) {
	m.ReceiptsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncNonceIssued() {
	m.NoncesIssued.Inc()
}

func (m *Metrics) IncRateLimit(outcome string) {
	m.RateLimit.WithLabelValues(outcome).Inc()
}

// Middleware records one observation per request under its chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		m.EndpointLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
