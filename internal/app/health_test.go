package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.call(t, http.MethodGet, "/api/health", "", "")

	expectStatus(t, rr, http.StatusOK)
	if ok := decodeMap(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	env := newTestEnv(t)

	rr := env.call(t, http.MethodGet, "/api/ready", "", "")

	expectStatus(t, rr, http.StatusOK)
	response := decodeMap(t, rr)
	if response["status"] != "ready" || response["ok"] != true {
		t.Fatalf("unexpected readiness payload: %v", response)
	}
	checks, _ := response["checks"].(map[string]any)
	for _, name := range []string{"database", "redis"} {
		check, _ := checks[name].(map[string]any)
		if check["status"] != "ok" {
			t.Errorf("expected %s status=ok, got %v", name, checks[name])
		}
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}

	rr := env.call(t, http.MethodGet, "/api/ready", "", "")

	expectStatus(t, rr, http.StatusServiceUnavailable)
	response := decodeMap(t, rr)
	if response["status"] != "not_ready" || response["ok"] != false {
		t.Fatalf("unexpected readiness payload: %v", response)
	}
	checks, _ := response["checks"].(map[string]any)
	dbCheck, _ := checks["database"].(map[string]any)
	if dbCheck["status"] != "error" || dbCheck["error"] != "connection refused" {
		t.Errorf("unexpected database check: %v", dbCheck)
	}
}

func TestReadyEndpoint_RedisFailureKeepsAPIReady(t *testing.T) {
	env := newTestEnv(t)
	env.redis.Close()

	rr := env.call(t, http.MethodGet, "/api/ready", "", "")

	expectStatus(t, rr, http.StatusOK)
	checks, _ := decodeMap(t, rr)["checks"].(map[string]any)
	redisCheck, _ := checks["redis"].(map[string]any)
	if redisCheck["status"] != "error" {
		t.Errorf("expected redis status=error, got %v", checks["redis"])
	}
}

func TestReadyEndpoint_WithoutTokenStore(t *testing.T) {
	env := newTestEnv(t)
	svc := New(testConfig(), env.store, env.store, env.mailer)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	expectStatus(t, rr, http.StatusOK)
	checks, _ := decodeMap(t, rr)["checks"].(map[string]any)
	if _, exists := checks["redis"]; exists {
		t.Errorf("expected no redis check, got %v", checks["redis"])
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/health", "/tasks", "/tasks/12"} {
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, path, nil))
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204 for OPTIONS %s, got %d", path, rr.Code)
		}
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.call(t, http.MethodGet, "/api/health", "", "")

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t)

	expectErrorCode(t, env.call(t, http.MethodGet, "/nope", "", ""), http.StatusNotFound, "NOT_FOUND")
	expectErrorCode(t, env.call(t, http.MethodDelete, "/api/health", "", ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestPingMethod(t *testing.T) {
	tests := []struct {
		name      string
		pingError error
		wantError bool
	}{
		{name: "healthy database", pingError: nil, wantError: false},
		{name: "unhealthy database", pingError: errors.New("connection failed"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.pingFn = func(context.Context) error {
				return tt.pingError
			}

			err := env.service.Ping(context.Background())
			if (err != nil) != tt.wantError {
				t.Errorf("Ping() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}
