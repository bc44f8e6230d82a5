package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/eden-task/usersvc/internal/version"
)

func TestNew_RegistryPopulated(t *testing.T) {
	m := New()

	// MustRegister in New() would panic if any metric failed to register.
	// Verify the registry is functional by scraping it.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()

	// Non-Vec metrics (gauge, counter) appear immediately
	immediateMetrics := []string{
		"http_inflight_requests",
		"http_panic_total",
		"http_requests_rate_limited_total",
		"request_guard_sanitized_fields_total",
		"users_total",
		"profiling_active",
	}
	for _, name := range immediateMetrics {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}

	// Go/process collectors should be present
	if !strings.Contains(body, "go_goroutines") {
		t.Error("go collector metrics missing")
	}
}

func TestHandler_ContentType(t *testing.T) {
	m := New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	ct := rec.Header().Get("Content-Type")
	// promhttp with OpenMetrics enabled produces either text/plain or application/openmetrics-text
	if !strings.Contains(ct, "text/plain") && !strings.Contains(ct, "openmetrics") {
		t.Fatalf("Content-Type = %q, want text/plain or openmetrics", ct)
	}
}

func TestIncHttpPanic(t *testing.T) {
	m := New()

	m.IncHttpPanic()
	m.IncHttpPanic()
	m.IncHttpPanic()

	val := counterValue(t, m.reg, "http_panic_total")
	if val != 3 {
		t.Fatalf("http_panic_total = %f, want 3", val)
	}
}

func TestIncRateLimitDenied(t *testing.T) {
	m := New()

	m.IncRateLimitDenied()
	m.IncRateLimitDenied()

	val := counterValue(t, m.reg, "http_requests_rate_limited_total")
	if val != 2 {
		t.Fatalf("http_requests_rate_limited_total = %f, want 2", val)
	}
}

func TestIncRateLimitCapacity(t *testing.T) {
	m := New()

	m.IncRateLimitCapacity()

	val := counterValue(t, m.reg, "http_requests_rate_limited_capacity_total")
	if val != 1 {
		t.Fatalf("http_requests_rate_limited_capacity_total = %f, want 1", val)
	}
}

func TestIncGuardRejected_ByReason(t *testing.T) {
	m := New()

	m.IncGuardRejected("too_large")
	m.IncGuardRejected("too_large")
	m.IncGuardRejected("unsupported_media_type")

	f := gatherMetric(t, m.reg, "request_guard_rejected_total")
	if f == nil {
		t.Fatal("request_guard_rejected_total not found")
	}

	got := make(map[string]float64)
	for _, metric := range f.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == "reason" {
				got[lp.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}

	if got["too_large"] != 2 {
		t.Errorf("too_large = %f, want 2", got["too_large"])
	}
	if got["unsupported_media_type"] != 1 {
		t.Errorf("unsupported_media_type = %f, want 1", got["unsupported_media_type"])
	}
}

func TestAddSanitizedFields(t *testing.T) {
	m := New()

	m.AddSanitizedFields(3)
	m.AddSanitizedFields(0)  // no-op
	m.AddSanitizedFields(-1) // no-op, counters cannot go down
	m.AddSanitizedFields(2)

	val := counterValue(t, m.reg, "request_guard_sanitized_fields_total")
	if val != 5 {
		t.Fatalf("sanitized fields total = %f, want 5", val)
	}
}

func TestSetUsersTotal(t *testing.T) {
	m := New()

	m.SetUsersTotal(7)
	m.SetUsersTotal(4)

	f := gatherMetric(t, m.reg, "users_total")
	if f == nil {
		t.Fatal("users_total not found")
	}
	if got := f.GetMetric()[0].GetGauge().GetValue(); got != 4 {
		t.Fatalf("users_total = %f, want 4", got)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()

	dirty := true
	vi := version.Info{
		Version:    "1.2.3",
		Commit:     "abc123",
		CommitDate: "2025-01-01",
		BuildDate:  "2025-01-01T00:00:00Z",
		GoVersion:  "go1.24.0",
		VCSDirty:   &dirty,
	}

	m.SetBuildInfoFromVersion("usersvc", "server", &vi)

	f := gatherMetric(t, m.reg, "build_info")
	if f == nil {
		t.Fatal("build_info metric not found")
	}

	metrics := f.GetMetric()
	if len(metrics) != 1 {
		t.Fatalf("build_info metric count = %d, want 1", len(metrics))
	}
	if metrics[0].GetGauge().GetValue() != 1 {
		t.Fatalf("build_info value = %f, want 1", metrics[0].GetGauge().GetValue())
	}

	labels := make(map[string]string)
	for _, lp := range metrics[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}

	checks := map[string]string{
		"app":        "usersvc",
		"component":  "server",
		"version":    "1.2.3",
		"commit":     "abc123",
		"go_version": "go1.24.0",
		"vcs_dirty":  "true",
	}
	for k, want := range checks {
		if got := labels[k]; got != want {
			t.Errorf("build_info label %q = %q, want %q", k, got, want)
		}
	}
}

func TestSetBuildInfoFromVersion_NilVCSDirty(t *testing.T) {
	m := New()

	vi := version.Info{Version: "dev"}
	m.SetBuildInfoFromVersion("app", "comp", &vi)

	f := gatherMetric(t, m.reg, "build_info")
	if f == nil {
		t.Fatal("build_info not found")
	}

	labels := make(map[string]string)
	for _, lp := range f.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}

	if labels["vcs_dirty"] != "unknown" {
		t.Fatalf("vcs_dirty = %q, want %q (nil should map to unknown)", labels["vcs_dirty"], "unknown")
	}
}

// Isolation - each New() gets its own registry

func TestNew_IsolatedRegistries(t *testing.T) {
	m1 := New()
	m2 := New()

	m1.IncHttpPanic()
	m1.IncHttpPanic()

	val1 := counterValue(t, m1.reg, "http_panic_total")
	if val1 != 2 {
		t.Fatalf("m1 panic count = %f, want 2", val1)
	}

	f := gatherMetric(t, m2.reg, "http_panic_total")
	if f != nil {
		for _, metric := range f.GetMetric() {
			if metric.GetCounter().GetValue() != 0 {
				t.Fatalf("m2 panic count = %f, want 0", metric.GetCounter().GetValue())
			}
		}
	}
}

// helpers

// gatherMetric collects metrics from the registry and finds one by name.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

// counterValue returns the value of the first metric in a counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil {
		t.Fatalf("metric %q not found", name)
	}
	if len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0].GetCounter().GetValue()
}
