package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func serveLimited(h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	store.now = func() time.Time { return now }

	h := rateLimit(store)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 2; i++ {
		rec, err := serveLimited(h, "10.0.0.1")
		if err != nil || rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d %v", i+1, rec.Code, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
			t.Errorf("expected X-RateLimit-Limit 1, got %q", got)
		}
	}

	rec, err := serveLimited(h, "10.0.0.1")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}

	// Another client has its own bucket.
	if _, err := serveLimited(h, "10.0.0.2"); err != nil {
		t.Errorf("expected other client allowed, got %v", err)
	}

	now = now.Add(time.Second)
	if _, err := serveLimited(h, "10.0.0.1"); err != nil {
		t.Errorf("expected token refilled after 1s, got %v", err)
	}
}

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	store.now = func() time.Time { return now }

	store.get("a")
	store.get("b")
	if store.len() != 2 {
		t.Fatalf("expected 2 limiters, got %d", store.len())
	}

	now = now.Add(2 * time.Minute)
	store.get("c")
	if store.len() != 1 {
		t.Errorf("expected idle limiters evicted, got %d", store.len())
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 || cfg.IdleTTL <= 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
