package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func probe(t *testing.T, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestLiveEndpoint(t *testing.T) {
	s := New()
	assert.Equal(t, http.StatusOK, probe(t, s.LiveEndpoint).Code)

	s.AddLivenessCheck("failing", time.Second, func(context.Context) error {
		return errors.New("boom")
	})
	rec := probe(t, s.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestReadyEndpoint(t *testing.T) {
	s := New()

	// Not ready until the flag is set, regardless of checks.
	assert.Equal(t, http.StatusServiceUnavailable, probe(t, s.ReadyEndpoint).Code)

	s.SetReady(true)
	assert.True(t, s.IsReady())
	assert.Equal(t, http.StatusOK, probe(t, s.ReadyEndpoint).Code)

	calls := 0
	s.AddReadinessCheck("dep", time.Second, func(context.Context) error {
		calls++
		return nil
	})
	assert.Equal(t, http.StatusOK, probe(t, s.ReadyEndpoint).Code)
	assert.Equal(t, 1, calls)

	s.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, probe(t, s.ReadyEndpoint).Code)
	// Checks are skipped while draining.
	assert.Equal(t, 1, calls)
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
