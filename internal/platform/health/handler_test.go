package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadinessReportsChecks(t *testing.T) {
	h := New("test")
	h.RegisterCheck("receipt_store", func(context.Context) error { return nil })
	rec := serve(h, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.RegisterOptional("kafka", func(context.Context) error { return errors.New("no brokers") })
	rec = serve(h, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "up", body.Checks["receipt_store"])
	assert.Equal(t, "down: no brokers", body.Checks["kafka"])

	h.RegisterCheck("receipt_store", func(context.Context) error { return errors.New("connection refused") })
	rec = serve(h, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
}

func TestReadinessBoundsSlowChecks(t *testing.T) {
	h := New("test")
	h.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	rec := serve(h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}

func TestLivenessAndStatus(t *testing.T) {
	h := New("test")
	assert.Equal(t, http.StatusOK, serve(h, "/health/live").Code)

	rec := serve(h, "/health")
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Environment)
}
