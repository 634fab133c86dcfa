package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darwin7381/ga4-realtime-api/internal/handler"
	"github.com/darwin7381/ga4-realtime-api/internal/middleware"
	"github.com/darwin7381/ga4-realtime-api/internal/ratelimit"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func TestLogger_IncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := chimiddleware.RequestID(middleware.Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})))

	req := httptest.NewRequest(http.MethodGet, "/missing?key=secret", nil)
	req.Header.Set("X-Request-Id", "req-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-123", line["request_id"])
	assert.Equal(t, "/missing", line["path"])
	assert.EqualValues(t, 404, line["status"])
	assert.Equal(t, "WARN", line["level"])
	assert.NotContains(t, buf.String(), "secret")
}

func TestRateLimitByIP(t *testing.T) {
	limiter, err := ratelimit.NewMemory(ratelimit.Policy{MaxRequests: 2, Window: time.Minute})
	require.NoError(t, err)

	h := middleware.RateLimitByIP(limiter, "auth:", time.Minute, handler.WriteError, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(ok))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5000").Code)
	// a different source port is still the same client
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5001").Code)

	rr := call("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// RealIP leaves a bare address
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2").Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRateLimitByIP_LimiterFailure(t *testing.T) {
	h := middleware.RateLimitByIP(brokenLimiter{}, "auth:", time.Minute, handler.WriteError, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(ok))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
