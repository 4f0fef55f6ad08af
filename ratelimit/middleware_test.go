package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newLimitedServer(l *Limiter, rule Rule) *echo.Echo {
	e := echo.New()
	e.POST("/contact", func(c echo.Context) error {
		return c.JSON(http.StatusCreated, map[string]string{"ok": "yes"})
	}, l.Middleware(rule, ForwardedForKey))
	return e
}

func post(e *echo.Echo, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/contact", nil)
	if xff != "" {
		req.Header.Set(echo.HeaderXForwardedFor, xff)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareHeadersAndRejection(t *testing.T) {
	clock := newFakeClock()
	l := New(nil, WithClock(clock.Now))
	e := newLimitedServer(l, Rule{Name: "contact", Window: time.Minute, MaxRequests: 2})

	rec := post(e, "198.51.100.7")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" || rec.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("headers = %v", rec.Header())
	}
	wantReset := "1748779260"
	if got := rec.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Fatalf("X-RateLimit-Reset = %q, want %q", got, wantReset)
	}

	post(e, "198.51.100.7")
	clock.Advance(20*time.Second + 500*time.Millisecond)
	rec = post(e, "198.51.100.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if got := rec.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("Retry-After = %q, want 40", got)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" || body["message"] == "" {
		t.Fatalf("body = %v", body)
	}
	if body["resetTime"] != "2025-06-01T12:01:00Z" {
		t.Fatalf("resetTime = %q", body["resetTime"])
	}
}

func TestMiddlewareFirstForwardedValue(t *testing.T) {
	l := New(nil)
	e := newLimitedServer(l, Rule{Name: "contact", Window: time.Minute, MaxRequests: 1})

	if rec := post(e, "203.0.113.5, 10.0.0.1"); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := post(e, "203.0.113.5, 10.0.0.2"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected same client behind another proxy to share the bucket, got %d", rec.Code)
	}
	if rec := post(e, "203.0.113.6"); rec.Code != http.StatusCreated {
		t.Fatalf("expected a different client to be admitted, got %d", rec.Code)
	}
}

func TestMiddlewareMissingHeaderSharesUnknownBucket(t *testing.T) {
	l := New(nil)
	e := newLimitedServer(l, Rule{Name: "contact", Window: time.Minute, MaxRequests: 1})

	post(e, "")
	if rec := post(e, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if _, ok, _ := l.Store().Get(t.Context(), "contact:unknown"); !ok {
		t.Fatal("expected requests without a forwarded header to use the unknown bucket")
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	l := New(&brokenStore{})
	e := newLimitedServer(l, ContactRule)
	for range 10 {
		if rec := post(e, "198.51.100.9"); rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 while the store is down", rec.Code)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		reset time.Time
		want  int
	}{
		{now.Add(60 * time.Second), 60},
		{now.Add(1500 * time.Millisecond), 2},
		{now.Add(time.Millisecond), 1},
		{now, 0},
		{now.Add(-time.Second), 0},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.reset, now); got != tt.want {
			t.Errorf("retryAfter(%v) = %d, want %d", tt.reset.Sub(now), got, tt.want)
		}
	}
}
