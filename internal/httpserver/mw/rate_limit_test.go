package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Burst: 2, RefillPerIPPerMin: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	call := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/discovery/scan", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("10.0.0.5:1000"); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}

	rec := call("10.0.0.5:1001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// Buckets are per client IP.
	if rec := call("10.0.0.6:1000"); rec.Code != http.StatusAccepted {
		t.Errorf("other client throttled: status = %d", rec.Code)
	}
}

func TestLimiterRefills(t *testing.T) {
	l := newLimiter(RateLimitConfig{Burst: 1, RefillPerIPPerMin: 60})
	now := time.Unix(0, 0)

	if ok, _, _ := l.allow("a", now); !ok {
		t.Fatal("first request refused")
	}
	if ok, _, retry := l.allow("a", now); ok || retry != 1 {
		t.Fatalf("second request: ok=%v retry=%d", ok, retry)
	}
	if ok, _, _ := l.allow("a", now.Add(time.Second)); !ok {
		t.Error("token not refilled after one second")
	}
}
