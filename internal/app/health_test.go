package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
)

var errRedisDown = errors.New("redis down")

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do(t, http.MethodGet, "/api/health", "", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok := decode(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	env := newTestEnv(t, envOptions{checks: []Check{
		{Name: "database", Ping: func(context.Context) error { return nil }},
	}})
	rr := env.do(t, http.MethodGet, "/api/ready", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if payload["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", payload["status"])
	}
	db := payload["checks"].(map[string]any)["database"].(map[string]any)
	if db["status"] != "ok" {
		t.Errorf("expected database status=ok, got %v", db["status"])
	}
}

func TestReadyEndpoint_Failure(t *testing.T) {
	env := newTestEnv(t, envOptions{checks: []Check{
		{Name: "database", Ping: func(context.Context) error { return nil }},
		{Name: "redis", Ping: func(context.Context) error { return errRedisDown }},
	}})
	rr := env.do(t, http.MethodGet, "/api/ready", "", nil)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decode(t, rr)
	if payload["ok"] != false || payload["status"] != "not_ready" {
		t.Errorf("unexpected payload %v", payload)
	}
	checks := payload["checks"].(map[string]any)
	redis := checks["redis"].(map[string]any)
	if redis["status"] != "error" || redis["error"] != "redis down" {
		t.Errorf("unexpected redis check %v", redis)
	}
	if checks["database"].(map[string]any)["status"] != "ok" {
		t.Errorf("database check should pass, got %v", checks["database"])
	}
}

func TestMiddlewareSetsHeadersAndLogsRequest(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do(t, http.MethodGet, "/api/health", "", nil)

	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin *, got %q", got)
	}

	entry := env.hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a request log entry")
	}
	if entry.Level != logrus.InfoLevel || entry.Data["path"] != "/api/health" || entry.Data["status"] != http.StatusOK {
		t.Errorf("unexpected log entry %+v", entry.Data)
	}
	for _, field := range []string{"request_id", "method", "duration_ms"} {
		if _, ok := entry.Data[field]; !ok {
			t.Errorf("log entry missing %s", field)
		}
	}
}

func TestPreflightAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if rr := env.do(t, http.MethodOptions, "/api/todos", "", nil); rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rr.Code)
	}
	expectError(t, env.do(t, http.MethodGet, "/api/nope", "", nil), http.StatusNotFound, "NOT_FOUND")
}
