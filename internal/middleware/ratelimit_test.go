package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/streamsniff/streamsniff/internal/config"
)

func resetRateLimit() {
	rateLimitMu.Lock()
	rateLimitStore = make(map[string][]time.Time)
	rateLimitMu.Unlock()
}

func TestCheckRateLimit(t *testing.T) {
	resetRateLimit()

	for i := 0; i < config.RateLimitMax; i++ {
		allowed, _, _ := checkRateLimit("10.0.0.1")
		if !allowed {
			t.Fatalf("request %d denied inside the limit", i+1)
		}
	}

	allowed, remaining, resetIn := checkRateLimit("10.0.0.1")
	if allowed {
		t.Error("request over the limit was allowed")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if resetIn <= 0 {
		t.Errorf("resetIn = %d, want positive", resetIn)
	}

	// Other clients are unaffected.
	if allowed, _, _ := checkRateLimit("10.0.0.2"); !allowed {
		t.Error("unrelated client was throttled")
	}
}

func TestCheckRateLimitExpiresOldRequests(t *testing.T) {
	resetRateLimit()

	stale := time.Now().Add(-config.RateLimitWindow - time.Minute)
	rateLimitMu.Lock()
	for i := 0; i < config.RateLimitMax; i++ {
		rateLimitStore["10.0.0.3"] = append(rateLimitStore["10.0.0.3"], stale)
	}
	rateLimitMu.Unlock()

	if allowed, _, _ := checkRateLimit("10.0.0.3"); !allowed {
		t.Error("requests outside the window still count against the limit")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	resetRateLimit()

	handler := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	for i := 0; i <= config.RateLimitMax; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.9:52000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code

		if rec.Header().Get("X-RateLimit-Limit") == "" {
			t.Fatal("X-RateLimit-Limit header missing")
		}
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("final status = %d, want 429", lastCode)
	}
}
