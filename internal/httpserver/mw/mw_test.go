package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, remote, host string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if host != "" {
		req.Host = host
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAllowOnlyCIDRS(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8", "192.168.1.5"}, false, logger.Nop())(ok)

	tests := []struct {
		remote string
		want   int
	}{
		{"10.1.2.3:5000", http.StatusOK},
		{"192.168.1.5:80", http.StatusOK},
		{"192.168.1.6:80", http.StatusForbidden},
		{"203.0.113.9:443", http.StatusForbidden},
	}
	for _, tt := range tests {
		if got := serve(h, tt.remote, "", nil); got != tt.want {
			t.Errorf("remote %s: status %d, want %d", tt.remote, got, tt.want)
		}
	}
}

func TestAllowOnlyCIDRS_TrustProxy(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8"}, true, logger.Nop())(ok)

	if got := serve(h, "127.0.0.1:1", "", map[string]string{"X-Forwarded-For": "10.0.0.4, 127.0.0.1"}); got != http.StatusOK {
		t.Errorf("forwarded allowed IP: status %d", got)
	}
	if got := serve(h, "10.0.0.4:1", "", map[string]string{"X-Forwarded-For": "203.0.113.9"}); got != http.StatusForbidden {
		t.Errorf("forwarded foreign IP: status %d", got)
	}
}

func TestAllowOnlyCIDRS_EmptyListPassesThrough(t *testing.T) {
	h := AllowOnlyCIDRS(nil, false, logger.Nop())(ok)
	if got := serve(h, "203.0.113.9:443", "", nil); got != http.StatusOK {
		t.Errorf("status %d, want 200", got)
	}
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"broker.local", "*.example.com"}, logger.Nop())(ok)

	tests := []struct {
		host string
		want int
	}{
		{"broker.local", http.StatusOK},
		{"BROKER.local:8080", http.StatusOK},
		{"a.example.com", http.StatusOK},
		{"example.com", http.StatusForbidden},
		{"evil.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		if got := serve(h, "10.0.0.1:1", tt.host, nil); got != tt.want {
			t.Errorf("host %s: status %d, want %d", tt.host, got, tt.want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{RPS: 1, Burst: 2})(ok)

	for i := 0; i < 2; i++ {
		if got := serve(h, "10.0.0.1:1", "", nil); got != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i, got)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", rec.Header().Get("X-RateLimit-Limit"))
	}

	// other clients have their own bucket
	if got := serve(h, "10.0.0.2:1", "", nil); got != http.StatusOK {
		t.Errorf("other client: status %d, want 200", got)
	}
}

func TestLimiterSweepsIdleVisitors(t *testing.T) {
	l := newLimiter(RateLimitConfig{RPS: 1, Burst: 1, SweepInterval: time.Minute, IdleTTL: time.Minute})
	now := time.Now()

	l.allow("10.0.0.1", now)
	l.allow("10.0.0.2", now.Add(90*time.Second))

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("idle visitor was not swept")
	}
	if _, ok := l.visitors["10.0.0.2"]; !ok {
		t.Error("active visitor missing")
	}
}
