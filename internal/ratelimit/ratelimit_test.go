package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eden-task/usersvc/internal/httpmw"
)

// newTestLimiter creates a limiter with a short TTL and cancellable context.
// Returns the limiter and a cancel func to stop the cleanup goroutine.
func newTestLimiter(opts ...Option) (*IPLimiter, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	defaults := []Option{
		WithRate(10, 5),
		WithTTL(100 * time.Millisecond),
	}
	all := append(defaults, opts...)
	l := New(ctx, all...)
	return l, cancel
}

func TestAllow_BurstThenReject(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(1, 5)) // 1/sec refill, burst of 5
	defer cancel()

	ip := "10.0.0.1"

	for i := 0; i < 5; i++ {
		if !l.allow(ip) {
			t.Fatalf("request %d should be allowed (within burst)", i+1)
		}
	}

	if l.allow(ip) {
		t.Fatal("request 6 should be denied (burst exhausted)")
	}
}

func TestAllow_SeparateIPsGetSeparateBuckets(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(1, 3))
	defer cancel()

	for i := 0; i < 3; i++ {
		l.allow("10.0.0.1")
	}

	if l.allow("10.0.0.1") {
		t.Fatal("ip1 should be denied after burst")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("ip2 should be allowed (separate bucket)")
	}
}

func TestAllow_RefillAfterTime(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(100, 1)) // 100/sec refill, burst of 1
	defer cancel()

	ip := "10.0.0.1"

	if !l.allow(ip) {
		t.Fatal("first request should be allowed")
	}
	if l.allow(ip) {
		t.Fatal("should be denied with empty bucket")
	}

	// at 100/sec, 20ms is 2 tokens
	time.Sleep(20 * time.Millisecond)

	if !l.allow(ip) {
		t.Fatal("should be allowed after refill")
	}
}

func TestOnFirstDenied_CalledOnce(t *testing.T) {
	var firstCount atomic.Int32

	l, cancel := newTestLimiter(
		WithRate(1, 2),
		WithOnFirstDenied(func(ip string) {
			firstCount.Add(1)
		}),
	)
	defer cancel()

	ip := "10.0.0.1"

	l.allow(ip)
	l.allow(ip)

	for i := 0; i < 10; i++ {
		l.allow(ip)
	}

	if got := firstCount.Load(); got != 1 {
		t.Fatalf("OnFirstDenied called %d times, want 1", got)
	}
}

func TestOnDenied_CalledEveryDenial(t *testing.T) {
	var deniedCount atomic.Int32

	l, cancel := newTestLimiter(
		WithRate(1, 2),
		WithOnDenied(func(ip string) {
			deniedCount.Add(1)
		}),
	)
	defer cancel()

	ip := "10.0.0.1"

	l.allow(ip)
	l.allow(ip)

	for i := 0; i < 5; i++ {
		l.allow(ip)
	}

	if got := deniedCount.Load(); got != 5 {
		t.Fatalf("OnDenied called %d times, want 5", got)
	}
}

func TestOnFirstDenied_PerIP(t *testing.T) {
	seen := make(map[string]int)
	var mu sync.Mutex

	l, cancel := newTestLimiter(
		WithRate(1, 1),
		WithOnFirstDenied(func(ip string) {
			mu.Lock()
			seen[ip]++
			mu.Unlock()
		}),
	)
	defer cancel()

	l.allow("10.0.0.1")
	l.allow("10.0.0.1") // denied, first for this IP
	l.allow("10.0.0.1") // denied again, should not re-trigger

	l.allow("10.0.0.2")
	l.allow("10.0.0.2") // denied, first for this IP

	mu.Lock()
	defer mu.Unlock()

	if seen["10.0.0.1"] != 1 {
		t.Errorf("OnFirstDenied for 10.0.0.1: got %d, want 1", seen["10.0.0.1"])
	}
	if seen["10.0.0.2"] != 1 {
		t.Errorf("OnFirstDenied for 10.0.0.2: got %d, want 1", seen["10.0.0.2"])
	}
}

func TestCleanup_EvictsStaleVisitors(t *testing.T) {
	l, cancel := newTestLimiter(
		WithRate(1, 1),
		WithTTL(50*time.Millisecond),
	)
	defer cancel()

	l.allow("10.0.0.1")

	l.mu.Lock()
	if _, exists := l.visitors["10.0.0.1"]; !exists {
		l.mu.Unlock()
		t.Fatal("visitor should exist immediately after request")
	}
	l.mu.Unlock()

	// wait for TTL + cleanup interval (TTL/2) + buffer
	time.Sleep(120 * time.Millisecond)

	l.mu.Lock()
	_, exists := l.visitors["10.0.0.1"]
	l.mu.Unlock()

	if exists {
		t.Fatal("visitor should be evicted after TTL")
	}
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(1, 1))
	defer cancel()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/users", http.NoBody)
		req = req.WithContext(httpmw.WithClientIP(req.Context(), "10.0.0.1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}

	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec.Body.String() != `{"success":false,"error":"Too many requests"}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestMaxVisitors_RejectsNewIPsAtCapacity(t *testing.T) {
	var capacityCount atomic.Int32

	l, cancel := newTestLimiter(
		WithRate(1, 2),
		WithMaxVisitors(1),
		WithOnCapacity(func() {
			capacityCount.Add(1)
		}),
	)
	defer cancel()

	if !l.allow("10.0.0.1") {
		t.Fatal("first visitor should be allowed")
	}

	// map is full, a new IP is rejected even with a fresh bucket
	if l.allow("10.0.0.2") {
		t.Fatal("new visitor should be rejected at capacity")
	}
	if l.allow("10.0.0.3") {
		t.Fatal("new visitor should be rejected at capacity")
	}

	// the tracked visitor keeps its bucket
	if !l.allow("10.0.0.1") {
		t.Fatal("existing visitor should still be allowed")
	}

	if got := capacityCount.Load(); got != 2 {
		t.Fatalf("OnCapacity called %d times, want 2", got)
	}
}

func TestMaxVisitors_AdmitsNewIPsAfterEviction(t *testing.T) {
	l, cancel := newTestLimiter(
		WithRate(1, 1),
		WithTTL(50*time.Millisecond),
		WithMaxVisitors(1),
	)
	defer cancel()

	l.allow("10.0.0.1")
	if l.allow("10.0.0.2") {
		t.Fatal("new visitor should be rejected at capacity")
	}

	// wait for TTL + cleanup interval (TTL/2) + buffer
	time.Sleep(120 * time.Millisecond)

	if !l.allow("10.0.0.2") {
		t.Fatal("new visitor should be admitted once eviction frees an entry")
	}
}

func TestBurst_ReportsConfiguredCapacity(t *testing.T) {
	l, cancel := newTestLimiter(WithRate(25, 100))
	defer cancel()

	if l.Burst() != 100 {
		t.Fatalf("Burst() = %d, want 100", l.Burst())
	}
}
