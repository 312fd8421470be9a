package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_BlocksAfterMax(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Wrap(okHandler(), RateLimit(ctx, RateLimitConfig{Max: 2, Window: time.Minute}))

	assert.Equal(t, http.StatusOK, doRequest(t, h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, h, "10.0.0.1:1234").Code)

	rec := doRequest(t, h, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other clients are unaffected.
	assert.Equal(t, http.StatusOK, doRequest(t, h, "10.0.0.2:1234").Code)
}

func TestRateLimit_WindowResets(t *testing.T) {
	limiter := &rateLimiter{
		windows: make(map[string]*rateWindow),
		cfg:     RateLimitConfig{Max: 1, Window: time.Second},
	}

	now := time.Now()
	ok, _ := limiter.allow("c1", now)
	require.True(t, ok)

	ok, retryAfter := limiter.allow("c1", now)
	require.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	ok, _ = limiter.allow("c1", now.Add(time.Second))
	assert.True(t, ok)
}

func TestRateLimit_DisabledWhenMaxZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Wrap(okHandler(), RateLimit(ctx, RateLimitConfig{Max: 0}))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doRequest(t, h, "10.0.0.1:1234").Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Wrap(inner, RequestID())

	rec := doRequest(t, h, "10.0.0.1:1234")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.Equal(t, "caller-supplied-id", out.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad\x00id")
	out = httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.NotEqual(t, "bad\x00id", out.Header().Get("X-Request-ID"))
}
