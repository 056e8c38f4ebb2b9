package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelrelay/admission/internal/app"
	"github.com/modelrelay/admission/internal/circuit"
	"github.com/modelrelay/admission/internal/config"
	"github.com/modelrelay/admission/internal/db"
	"github.com/modelrelay/admission/internal/ratelimit"
	"github.com/modelrelay/admission/internal/store"
)

const testAdminSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router  *gin.Engine
	manager *ratelimit.Manager
	db      *gorm.DB
}

func newTestEnv(t *testing.T, name string) *testEnv {
	t.Helper()
	conn, errOpen := db.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	resolver := ratelimit.NewResolver(
		store.NewGormAccountDirectory(conn),
		store.NewGormOverrideStore(conn),
		ratelimit.NewDomainClassifier(nil),
		ratelimit.DefaultConfig(),
	)
	limiter := ratelimit.NewSlidingWindowLimiter(ratelimit.NewMemoryStore(), nil)
	manager := ratelimit.NewManager(limiter, resolver, nil, ratelimit.ManagerOptions{})
	registry := circuit.NewRegistry(circuit.NewMemoryStateStore(), circuit.Config{FailureThreshold: 1}, nil, nil)

	router := NewRouter(RouterDeps{
		Manager:    manager,
		Registry:   registry,
		Dispatcher: app.NewDispatcher(registry),
		DB:         conn,
		Admin:      config.AdminConfig{JWTSecret: testAdminSecret, JWTExpiry: time.Hour},
	})
	return &testEnv{router: router, manager: manager, db: conn}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, req)
	return recorder
}

func adminHeaders(t *testing.T) map[string]string {
	t.Helper()
	token, errIssue := IssueAdminToken(testAdminSecret, "ops@modelrelay.dev", time.Hour)
	if errIssue != nil {
		t.Fatalf("issue token: %v", errIssue)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "http_healthz")
	recorder := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthz: want 200, got %d", recorder.Code)
	}
}

func TestCheckAllowedWritesHeaders(t *testing.T) {
	env := newTestEnv(t, "http_check_ok")
	recorder := env.do(t, http.MethodPost, "/v1/admission/check",
		map[string]any{"api_key": "mrk-ok", "tokens": 100}, nil)

	if recorder.Code != http.StatusOK {
		t.Fatalf("check: want 200, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	defaults := ratelimit.DefaultConfig()
	if got := recorder.Header().Get("X-RateLimit-Limit-Requests"); got != fmt.Sprint(defaults.RequestsPerMinute) {
		t.Fatalf("limit header: got %q", got)
	}
	if got := recorder.Header().Get("X-RateLimit-Remaining-Requests"); got != fmt.Sprint(defaults.RequestsPerMinute-1) {
		t.Fatalf("remaining header: got %q", got)
	}
	if recorder.Header().Get("X-RateLimit-Reset-Requests") == "" {
		t.Fatal("reset header missing")
	}
	if got := recorder.Header().Get("X-RateLimit-Burst-Window"); got == "" {
		t.Fatal("burst window header missing")
	}
}

func TestCheckDeniedMapsTo429(t *testing.T) {
	env := newTestEnv(t, "http_check_denied")
	if errUpdate := env.manager.UpdateConfig(context.Background(), "mrk-tight",
		ratelimit.Config{RequestsPerMinute: 1}, nil); errUpdate != nil {
		t.Fatalf("update config: %v", errUpdate)
	}

	first := env.do(t, http.MethodPost, "/v1/admission/check",
		map[string]any{"api_key": "mrk-tight", "tokens": 1}, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first check: want 200, got %d", first.Code)
	}

	// Different token count so the result cache cannot answer.
	second := env.do(t, http.MethodPost, "/v1/admission/check",
		map[string]any{"api_key": "mrk-tight", "tokens": 2}, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second check: want 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing on denial")
	}
	var payload struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	if errDecode := json.Unmarshal(second.Body.Bytes(), &payload); errDecode != nil {
		t.Fatalf("decode body: %v", errDecode)
	}
	if payload.Error != "Requests per minute limit exceeded" {
		t.Fatalf("unexpected reason: %q", payload.Error)
	}
	if payload.RetryAfter < 1 || payload.RetryAfter > 60 {
		t.Fatalf("retry_after out of range: %d", payload.RetryAfter)
	}
}

func TestCheckRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, "http_check_bad")

	if code := env.do(t, http.MethodPost, "/v1/admission/check",
		map[string]any{"tokens": 1}, nil).Code; code != http.StatusBadRequest {
		t.Fatalf("missing api_key: want 400, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/v1/admission/check",
		map[string]any{"api_key": "mrk-x", "tokens": -5}, nil).Code; code != http.StatusBadRequest {
		t.Fatalf("negative tokens: want 400, got %d", code)
	}
}

func TestReleaseReturnsNoContent(t *testing.T) {
	env := newTestEnv(t, "http_release")
	recorder := env.do(t, http.MethodPost, "/v1/admission/release",
		map[string]any{"api_key": "mrk-done"}, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("release: want 204, got %d", recorder.Code)
	}
}

func TestProviderReportOpensCircuit(t *testing.T) {
	env := newTestEnv(t, "http_report")
	worker := map[string]string{"X-API-Key": "mrk-worker"}

	failure := env.do(t, http.MethodPost, "/v1/providers/openai/report",
		map[string]any{"success": false}, worker)
	if failure.Code != http.StatusAccepted {
		t.Fatalf("failure report: want 202, got %d body=%s", failure.Code, failure.Body.String())
	}

	// Threshold is 1 in the test registry, so the circuit is now open.
	blocked := env.do(t, http.MethodPost, "/v1/providers/openai/report",
		map[string]any{"success": true}, worker)
	if blocked.Code != http.StatusServiceUnavailable {
		t.Fatalf("open circuit: want 503, got %d", blocked.Code)
	}
	if blocked.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing on open circuit")
	}

	other := env.do(t, http.MethodPost, "/v1/providers/anthropic/report",
		map[string]any{"success": true}, worker)
	if other.Code != http.StatusAccepted {
		t.Fatalf("independent provider: want 202, got %d", other.Code)
	}
}

func TestProviderReportRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, "http_report_auth")

	recorder := env.do(t, http.MethodPost, "/v1/providers/openai/report",
		map[string]any{"success": true}, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: want 401, got %d", recorder.Code)
	}
}

func TestAdmissionMiddlewareDenies(t *testing.T) {
	env := newTestEnv(t, "http_middleware_denied")
	if errUpdate := env.manager.UpdateConfig(context.Background(), "mrk-throttled",
		ratelimit.Config{RequestsPerMinute: 1}, nil); errUpdate != nil {
		t.Fatalf("update config: %v", errUpdate)
	}

	// Burn the single minute slot through the check endpoint; the
	// middleware checks with tokens=0 so the cached allowed result for
	// tokens=1 cannot answer for it.
	env.do(t, http.MethodPost, "/v1/admission/check",
		map[string]any{"api_key": "mrk-throttled", "tokens": 1}, nil)

	denied := env.do(t, http.MethodPost, "/v1/providers/openai/report",
		map[string]any{"success": true}, map[string]string{"X-API-Key": "mrk-throttled"})
	if denied.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled worker: want 429, got %d", denied.Code)
	}
	if denied.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, "http_admin_auth")

	if code := env.do(t, http.MethodGet, "/admin/breakers", nil, nil).Code; code != http.StatusUnauthorized {
		t.Fatalf("missing token: want 401, got %d", code)
	}
	headers := map[string]string{"Authorization": "Bearer not-a-token"}
	if code := env.do(t, http.MethodGet, "/admin/breakers", nil, headers).Code; code != http.StatusUnauthorized {
		t.Fatalf("garbage token: want 401, got %d", code)
	}
	if code := env.do(t, http.MethodGet, "/admin/breakers", nil, adminHeaders(t)).Code; code != http.StatusOK {
		t.Fatalf("valid token: want 200, got %d", code)
	}
}

func TestAdminCreateAccount(t *testing.T) {
	env := newTestEnv(t, "http_admin_accounts")
	headers := adminHeaders(t)

	recorder := env.do(t, http.MethodPost, "/admin/accounts",
		map[string]any{"email": "Ops@BigCorp.com", "name": "Ops", "tier": "enterprise"}, headers)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d body=%s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		AccountID uint64 `json:"account_id"`
		Email     string `json:"email"`
		Tier      string `json:"tier"`
		APIKey    string `json:"api_key"`
	}
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if created.Email != "ops@bigcorp.com" {
		t.Fatalf("email should be lowercased, got %q", created.Email)
	}
	if created.APIKey == "" {
		t.Fatal("expected an issued api key")
	}

	// The issued key resolves through the directory immediately.
	directory := store.NewGormAccountDirectory(env.db)
	account, errGet := directory.GetAccount(context.Background(), created.APIKey)
	if errGet != nil || account == nil {
		t.Fatalf("issued key should resolve: account=%+v err=%v", account, errGet)
	}
	if account.Tier != ratelimit.TierEnterprise {
		t.Fatalf("tier: want enterprise, got %q", account.Tier)
	}

	// Duplicate email conflicts.
	if code := env.do(t, http.MethodPost, "/admin/accounts",
		map[string]any{"email": "ops@bigcorp.com"}, headers).Code; code != http.StatusConflict {
		t.Fatalf("duplicate: want 409, got %d", code)
	}
	// Unknown tier is rejected.
	if code := env.do(t, http.MethodPost, "/admin/accounts",
		map[string]any{"email": "x@y.com", "tier": "platinum"}, headers).Code; code != http.StatusBadRequest {
		t.Fatalf("bad tier: want 400, got %d", code)
	}
}

func TestAdminOverrideLifecycle(t *testing.T) {
	env := newTestEnv(t, "http_admin_overrides")
	headers := adminHeaders(t)

	if code := env.do(t, http.MethodGet, "/admin/keys/mrk-x/limits", nil, headers).Code; code != http.StatusNotFound {
		t.Fatalf("absent override: want 404, got %d", code)
	}

	put := env.do(t, http.MethodPut, "/admin/keys/mrk-x/limits",
		map[string]any{"requests_per_minute": 7, "note": "abuse report"}, headers)
	if put.Code != http.StatusNoContent {
		t.Fatalf("put: want 204, got %d body=%s", put.Code, put.Body.String())
	}

	get := env.do(t, http.MethodGet, "/admin/keys/mrk-x/limits", nil, headers)
	if get.Code != http.StatusOK {
		t.Fatalf("get: want 200, got %d", get.Code)
	}
	var loaded struct {
		RequestsPerMinute int `json:"requests_per_minute"`
		TokensPerMinute   int `json:"tokens_per_minute"`
	}
	if errDecode := json.Unmarshal(get.Body.Bytes(), &loaded); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if loaded.RequestsPerMinute != 7 {
		t.Fatalf("rpm: want 7, got %d", loaded.RequestsPerMinute)
	}
	if loaded.TokensPerMinute != ratelimit.DefaultConfig().TokensPerMinute {
		t.Fatal("unset fields must be normalized to defaults on write")
	}
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, "http_admin_disabled")
	registry := circuit.NewRegistry(circuit.NewMemoryStateStore(), circuit.Config{}, nil, nil)
	router := NewRouter(RouterDeps{
		Manager:    env.manager,
		Registry:   registry,
		Dispatcher: app.NewDispatcher(registry),
		DB:         env.db,
		Admin:      config.AdminConfig{},
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/breakers", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("no secret: want 503, got %d", recorder.Code)
	}
}
