package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eden-task/usersvc/internal/log"
)

func kvValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

func TestWithLogger_PlacesLoggerInContext(t *testing.T) {
	spy := newSpyLogger()
	var inner log.Logger

	handler := WithLogger(spy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = log.FromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/users", http.NoBody))

	if inner == nil {
		t.Fatal("no logger in request context")
	}

	var sawMethod, sawPath bool
	for i, v := range spy.with {
		if v == "http.request.method" && i+1 < len(spy.with) && spy.with[i+1] == "GET" {
			sawMethod = true
		}
		if v == "url.path" && i+1 < len(spy.with) && spy.with[i+1] == "/api/users" {
			sawPath = true
		}
	}
	if !sawMethod || !sawPath {
		t.Fatalf("request fields missing from With: %v", spy.with)
	}
}

func TestAccessLog_LogsCompletedRequest(t *testing.T) {
	spy := newSpyLogger()

	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"ok":true}`))
		}),
		WithLogger(spy),
		AccessLog(),
	)

	req := httptest.NewRequest("POST", "/api/users", strings.NewReader(`{"name":"x"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	info, ok := spy.lastInfo()
	if !ok {
		t.Fatal("no access log line emitted")
	}
	if info.msg != "http request" {
		t.Fatalf("msg = %q", info.msg)
	}
	if status, _ := kvValue(info.kv, "http.response.status_code"); status != http.StatusCreated {
		t.Fatalf("status_code = %v, want 201", status)
	}
	if size, _ := kvValue(info.kv, "http.response.body.size"); size != int64(len(`{"ok":true}`)) {
		t.Fatalf("response body size = %v", size)
	}
}

func TestAccessLog_DefaultsStatusTo200(t *testing.T) {
	spy := newSpyLogger()

	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// no explicit WriteHeader, no body
		}),
		WithLogger(spy),
		AccessLog(),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/users", http.NoBody))

	info, ok := spy.lastInfo()
	if !ok {
		t.Fatal("no access log line emitted")
	}
	if status, _ := kvValue(info.kv, "http.response.status_code"); status != http.StatusOK {
		t.Fatalf("status_code = %v, want 200", status)
	}
}

func TestAccessLog_SkipsHealthEndpoints(t *testing.T) {
	spy := newSpyLogger()

	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		WithLogger(spy),
		AccessLog(),
	)

	for _, path := range []string{"/-/healthy", "/-/ready"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, http.NoBody))
	}

	if _, logged := spy.lastInfo(); logged {
		t.Fatal("health endpoints should not be access-logged")
	}
}

func TestAccessLog_NoLoggerInContext(t *testing.T) {
	// AccessLog without WithLogger upstream must not panic
	handler := AccessLog()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/users", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", http.NoBody)
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("scheme = %q, want http", got)
	}

	r.Header.Set("X-Forwarded-Proto", "https, http")
	if got := schemeFromRequest(r); got != "https" {
		t.Fatalf("scheme = %q, want first forwarded proto", got)
	}
}
