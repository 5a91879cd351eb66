package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(perMinute int, clock *time.Time) *MemoryLimiter {
	rl := NewMemoryLimiter(perMinute)
	rl.Stop()
	rl.now = func() time.Time { return *clock }
	return rl
}

func TestMemoryLimiterExhaustsAndRefills(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(3, &clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, _ := rl.Allow(ctx, "ip")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 2-i {
			t.Fatalf("request %d: expected %d remaining, got %d", i+1, 2-i, d.Remaining)
		}
	}

	d, _ := rl.Allow(ctx, "ip")
	if d.Allowed {
		t.Fatal("fourth request should be rejected")
	}
	if d.RetryAfter != 20*time.Second {
		t.Fatalf("expected retry after 20s, got %v", d.RetryAfter)
	}

	// Other keys have their own budget.
	if d, _ := rl.Allow(ctx, "other"); !d.Allowed {
		t.Fatal("separate key should be allowed")
	}

	clock = clock.Add(20 * time.Second)
	if d, _ := rl.Allow(ctx, "ip"); !d.Allowed {
		t.Fatal("request should be allowed after one refill interval")
	}
	if d, _ := rl.Allow(ctx, "ip"); d.Allowed {
		t.Fatal("only one token should have been refilled")
	}
}

func TestMemoryLimiterEvictsIdleBuckets(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(10, &clock)

	rl.Allow(context.Background(), "a")
	clock = clock.Add(bucketIdleTTL + time.Second)
	rl.Allow(context.Background(), "b")

	if removed := rl.evictIdle(); removed != 1 {
		t.Fatalf("expected 1 idle bucket evicted, got %d", removed)
	}
	if _, ok := rl.buckets["b"]; !ok {
		t.Fatal("recently used bucket should survive")
	}
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("rejects over budget", func(t *testing.T) {
		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		handler := Middleware(newTestLimiter(1, &clock), "dashboard", logger)(ok)

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.RemoteAddr = "10.0.0.1:5555"

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("first request: expected 200, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("second request: expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		handler := Middleware(errLimiter{}, "dashboard", logger)(ok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, remoteAddr: "10.0.0.1:80", want: "1.2.3.4"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "5.6.7.8"}, remoteAddr: "10.0.0.1:80", want: "5.6.7.8"},
		{name: "remote addr", remoteAddr: "9.9.9.9:1234", want: "9.9.9.9"},
		{name: "ipv6 remote addr", remoteAddr: "[::1]:1234", want: "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRedisLimiterWithoutClientAllows(t *testing.T) {
	rl := NewRedisLimiter(nil, " custom: ", 5, time.Minute)
	if rl.prefix != "custom" {
		t.Fatalf("expected trimmed prefix, got %q", rl.prefix)
	}
	if rl.key("dashboard:1.2.3.4") != "custom:dashboard:1.2.3.4" {
		t.Fatalf("unexpected key %q", rl.key("dashboard:1.2.3.4"))
	}
	d, err := rl.Allow(context.Background(), "dashboard:1.2.3.4")
	if err != nil || !d.Allowed {
		t.Fatalf("expected nil client to allow, got %+v err=%v", d, err)
	}
}
