// Package httptransport assembles the receipt service's HTTP surface.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"klarogeo/internal/platform/metrics"
	"klarogeo/internal/platform/middleware"
)

const (
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Routes is implemented by every handler mounted on the router.
type Routes interface {
	Register(r chi.Router)
}

// NewRouter wires the middleware stack, /metrics and the given routes.
func NewRouter(logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer, routes ...Routes) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.MaxBody(maxBodyBytes))
	if m != nil {
		r.Use(m.Middleware)
	}

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	for _, routes := range routes {
		routes.Register(r)
	}
	return r
}
