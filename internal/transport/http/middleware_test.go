package transporthttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitPerMinute(t *testing.T) {
	clock := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	h := RateLimitPerMinute(2, func() time.Time { return clock })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do("/metrics/triggers"))
	assert.Equal(t, http.StatusOK, do("/metrics/triggers"))
	assert.Equal(t, http.StatusTooManyRequests, do("/metrics/triggers"))
	assert.Equal(t, http.StatusOK, do("/v1/areas/resolve"), "other paths are not limited")

	clock = clock.Add(30 * time.Second)
	assert.Equal(t, http.StatusOK, do("/metrics/prometheus"))
}

func TestRecover(t *testing.T) {
	h := Recover(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t)
	f.deps.Cfg.MaxBodyBytes = 16
	h := f.deps.Router()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/samples/audio", strings.NewReader(`{"device_id":"`+strings.Repeat("x", 64)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
