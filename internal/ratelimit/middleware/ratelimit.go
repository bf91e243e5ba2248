// Package middleware throttles HTTP endpoints per client address.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"klarogeo/internal/platform/httputil"
	"klarogeo/internal/platform/logger"
	platformMW "klarogeo/internal/platform/middleware"
	"klarogeo/internal/platform/privacy"
	"klarogeo/internal/ratelimit/models"
)

// Limiter is implemented by the bucket stores.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Metrics records limiter decisions. Outcomes are allowed, limited and error.
type Metrics interface {
	IncRateLimit(outcome string)
}

// ExceededData is the body data of a 429, inside the receipt envelope.
type ExceededData struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

type exceededResponse struct {
	Success bool         `json:"success"`
	Data    ExceededData `json:"data"`
}

type Middleware struct {
	limiter Limiter
	policy  models.Policy
	scope   string
	trusted []netip.Prefix
	logger  *slog.Logger
	metrics Metrics
}

type Option func(*Middleware)

// WithScope namespaces keys so several policies can share one store.
func WithScope(scope string) Option {
	return func(m *Middleware) {
		m.scope = scope
	}
}

// WithTrustedProxies lists the peers whose forwarding headers are honoured.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(m *Middleware) {
		m.trusted = prefixes
	}
}

// WithLogger sets the logger; nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics counts allow and reject decisions.
func WithMetrics(metrics Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

func New(limiter Limiter, policy models.Policy, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		policy:  policy,
		scope:   "ip",
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler enforces the policy per client IP. Limiter failures let the
// request through.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m.limiter == nil || !m.policy.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := platformMW.ClientIP(r, m.trusted)

		result, err := m.limiter.Allow(ctx, m.scope+":"+ip, m.policy.Limit, m.policy.Window)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"error", err,
				"ip_prefix", privacy.AnonymizeIP(ip),
			)
			m.observe("error")
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"ip_prefix", privacy.AnonymizeIP(ip),
				"path", r.URL.Path,
				"request_id", platformMW.GetRequestID(ctx),
			)
			m.observe("limited")
			writeRateLimitExceeded(w, result)
			return
		}
		m.observe("allowed")
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) observe(outcome string) {
	if m.metrics != nil {
		m.metrics.IncRateLimit(outcome)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(result.Remaining, 0)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
		Data: ExceededData{
			Code:       "rate_limit_exceeded",
			Message:    "Too many requests from this address. Please try again later.",
			RetryAfter: result.RetryAfter,
		},
	})
}
