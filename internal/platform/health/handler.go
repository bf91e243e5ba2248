// Package health serves the receipt server's liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"klarogeo/internal/platform/httputil"
)

const checkTimeout = 2 * time.Second

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

type check struct {
	fn       CheckFunc
	required bool
}

// Handler aggregates dependency checks. A failing required check (the
// receipt store) makes the server not ready; a failing optional one (Kafka,
// Redis) only marks it degraded.
type Handler struct {
	startTime   time.Time
	environment string

	mu     sync.RWMutex
	checks map[string]check
}

func New(environment string) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
		checks:      make(map[string]check),
	}
}

// RegisterCheck adds a required readiness check.
func (h *Handler) RegisterCheck(name string, fn CheckFunc) {
	h.register(name, fn, true)
}

// RegisterOptional adds a check whose failure degrades but does not fail
// readiness.
func (h *Handler) RegisterOptional(name string, fn CheckFunc) {
	h.register(name, fn, false)
}

func (h *Handler) register(name string, fn CheckFunc, required bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, required: required}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// ReadinessResponse reports ready, degraded or not_ready with per-check detail.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs every check concurrently, each under its own timeout.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	checks := make([]check, 0, len(h.checks))
	for name, c := range h.checks {
		names = append(names, name)
		checks = append(checks, c)
	}
	h.mu.RUnlock()

	results := make([]error, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			results[i] = c.fn(ctx)
			return nil
		})
	}
	_ = g.Wait()

	response := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	status := http.StatusOK
	for i, err := range results {
		if err == nil {
			response.Checks[names[i]] = "up"
			continue
		}
		response.Checks[names[i]] = "down: " + err.Error()
		if checks[i].required {
			response.Status = "not_ready"
			status = http.StatusServiceUnavailable
		} else if response.Status == "ready" {
			response.Status = "degraded"
		}
	}
	httputil.WriteJSON(w, status, response)
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}
