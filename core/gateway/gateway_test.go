package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inactu/inactu-web/core/infra/ratelimit"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %q", rec.Body.String())
	}
	return body.Error
}

func TestHealthIsPublic(t *testing.T) {
	g := newTestGateway(t)
	rec := g.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	g := newTestGateway(t)
	for _, target := range []string{"/api/v1/packages", "/api/v1/contexts", "/api/openapi/proxy/v1/packages"} {
		rec := g.do(t, http.MethodGet, target, "", "")
		if rec.Code != http.StatusUnauthorized || decodeError(t, rec) != "Unauthorized" {
			t.Fatalf("%s: expected 401, got %d %s", target, rec.Code, rec.Body.String())
		}
	}
	if calls := g.cp.recorded(); len(calls) != 0 {
		t.Fatalf("unauthorized requests reached upstream: %+v", calls)
	}
}

func TestListPackagesRelaysSortedWithSubject(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusOK, `{"packages":[{"name":"zeta"},{"name":"alpha"}]}`))

	rec := g.do(t, http.MethodGet, "/api/v1/packages", "user-9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `[{"name":"alpha"},{"name":"zeta"}]`) {
		t.Fatalf("expected sorted packages, got %s", rec.Body.String())
	}
	calls := g.cp.recorded()
	if len(calls) != 1 || calls[0].Subject != "user-9" || calls[0].Path != "/v1/packages" {
		t.Fatalf("unexpected upstream calls %+v", calls)
	}
}

func TestCreatePackageValidation(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodPost, "/api/v1/packages", "u", "not json")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != "Invalid JSON body" {
		t.Fatalf("expected invalid body, got %d %s", rec.Code, rec.Body.String())
	}
	rec = g.do(t, http.MethodPost, "/api/v1/packages", "u", `{"name":"  "}`)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != "Package name is required" {
		t.Fatalf("expected name validation, got %d %s", rec.Code, rec.Body.String())
	}
	if calls := g.cp.recorded(); len(calls) != 0 {
		t.Fatalf("validation faults reached upstream: %+v", calls)
	}
}

func TestCreatePackageConflictAndEvent(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusConflict, `{"error":"package exists"}`))
	rec := g.do(t, http.MethodPost, "/api/packages", "u", `{"name":"demo"}`)
	if rec.Code != http.StatusConflict || decodeError(t, rec) != "package exists" {
		t.Fatalf("expected relayed conflict, got %d %s", rec.Code, rec.Body.String())
	}
	if len(g.audit.packages) != 0 {
		t.Fatalf("failed create must not emit a package event")
	}

	g.cp.setHandler(jsonHandler(http.StatusCreated, `{"package":{"id":"p1","name":"demo"}}`))
	rec = g.do(t, http.MethodPost, "/api/v1/packages", "u", `{"name":"demo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if len(g.audit.packages) != 1 || g.audit.packages[0].Action != "create" || g.audit.packages[0].Package != "demo" {
		t.Fatalf("unexpected package events %+v", g.audit.packages)
	}
}

func TestNonJSONUpstreamBody(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html>down</html>"))
	})
	rec := g.do(t, http.MethodGet, "/api/v1/contexts", "u", "")
	if rec.Code != http.StatusServiceUnavailable || decodeError(t, rec) != "Unexpected response" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestMissingBaseURLIsServerFault(t *testing.T) {
	cp := &fakeControlPlane{}
	g := newTestGatewayWithBase(t, "", cp)
	rec := g.do(t, http.MethodGet, "/api/v1/packages", "u", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	rec = g.do(t, http.MethodGet, "/api/openapi/proxy/v1/packages", "u", "")
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec) != "API base URL not configured" {
		t.Fatalf("expected proxy config fault, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestContextRoutes(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusOK, `{"context":{"id":"ctx-1"}}`))

	rec := g.do(t, http.MethodPost, "/api/v1/contexts", "u", `{"status":"starting","region":"eu","package":"demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	rec = g.do(t, http.MethodPatch, "/api/v1/contexts/ctx-1", "u", `{"status":"stopped"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	rec = g.do(t, http.MethodGet, "/api/v1/contexts?status=running", "u", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}

	calls := g.cp.recorded()
	if len(calls) != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", len(calls))
	}
	if calls[0].Body != `{"status":"starting","region":"eu"}` {
		t.Fatalf("lone package must be dropped, got %s", calls[0].Body)
	}
	if calls[1].Method != http.MethodPatch || calls[1].Path != "/v1/contexts/ctx-1" || calls[1].Body != `{"status":"stopped"}` {
		t.Fatalf("unexpected status call %+v", calls[1])
	}
	if calls[2].Query != "limit=100&status=running" {
		t.Fatalf("unexpected list query %q", calls[2].Query)
	}
	if len(g.audit.statuses) != 1 || g.audit.statuses[0].Status != "stopped" || g.audit.statuses[0].ContextID != "ctx-1" {
		t.Fatalf("unexpected status events %+v", g.audit.statuses)
	}
}

func TestAppendLogRejectsNonObjectMetadata(t *testing.T) {
	g := newTestGateway(t)
	rec := g.do(t, http.MethodPost, "/api/v1/contexts/ctx-1/logs", "u", `{"message":"m","metadata_json":[1]}`)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != "Metadata JSON must be an object." {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if len(g.cp.recorded()) != 0 {
		t.Fatalf("validation fault reached upstream")
	}
}

func TestListLogsFilters(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusOK, `{"logs":[],"next_before_id":null}`))

	rec := g.do(t, http.MethodGet, "/api/v1/contexts/ctx-1/logs?severity=warn&beforeId=10&q=boot", "u", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logs: %d %s", rec.Code, rec.Body.String())
	}
	calls := g.cp.recorded()
	if calls[0].Path != "/v1/contexts/ctx-1/logs" || calls[0].Query != "before_id=10&limit=50&q=boot&severity=warn" {
		t.Fatalf("unexpected logs call %+v", calls[0])
	}

	rec = g.do(t, http.MethodGet, "/api/v1/contexts/ctx-1/logs?severity=loud", "u", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad severity, got %d", rec.Code)
	}
}

func TestListLogsEnforcesCursor(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusOK, `{"logs":[
		{"id":12,"ts":"2026-01-01T00:00:12Z","severity":"info","message":"late"},
		{"id":9,"ts":"2026-01-01T00:00:09Z","severity":"info","message":"up","metadata_json":{"event":"context.status_changed","from":"starting","to":"running"}}
	],"next_before_id":12}`))

	rec := g.do(t, http.MethodGet, "/api/v1/contexts/ctx-1/logs?before_id=10", "u", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logs: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Logs []struct {
			ID         int64           `json:"id"`
			Metadata   json.RawMessage `json:"metadata_json"`
			Transition *struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"transition"`
		} `json:"logs"`
		NextBeforeID *int64 `json:"next_before_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Logs) != 1 || out.Logs[0].ID != 9 {
		t.Fatalf("entries at or above the cursor must be dropped, got %+v", out.Logs)
	}
	if out.NextBeforeID != nil {
		t.Fatalf("non-decreasing cursor must be cleared, got %d", *out.NextBeforeID)
	}
	if tr := out.Logs[0].Transition; tr == nil || tr.From != "starting" || tr.To != "running" {
		t.Fatalf("expected transition on audit entry, got %+v", tr)
	}
	if !strings.Contains(string(out.Logs[0].Metadata), "context.status_changed") {
		t.Fatalf("metadata not preserved: %s", out.Logs[0].Metadata)
	}
}

func TestListLogsRelaysUpstreamError(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusNotFound, `{"error":"context not found"}`))

	rec := g.do(t, http.MethodGet, "/api/v1/contexts/missing/logs", "u", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected relayed 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "context not found") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	g.cp.setHandler(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>"))
	})
	rec = g.do(t, http.MethodGet, "/api/v1/contexts/ctx-1/logs", "u", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for undecodable page, got %d", rec.Code)
	}
}

func TestContextAudit(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusOK, `{"logs":[
		{"id":2,"ts":"2026-01-01T00:00:02Z","severity":"info","message":"up","metadata_json":{"event":"context.status_changed","from":"starting","to":"running"}},
		{"id":1,"ts":"2026-01-01T00:00:01Z","severity":"info","message":"plain","metadata_json":{"event":"other"}}
	],"next_before_id":null}`))

	rec := g.do(t, http.MethodGet, "/api/v1/contexts/ctx-1/audit", "u", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Transitions []struct {
			EntryID int64  `json:"entry_id"`
			From    string `json:"from"`
			To      string `json:"to"`
		} `json:"transitions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Transitions) != 1 || out.Transitions[0].EntryID != 2 || out.Transitions[0].To != "running" {
		t.Fatalf("unexpected transitions %+v", out.Transitions)
	}

	g.cp.setHandler(jsonHandler(http.StatusNotFound, `{"error":"context not found"}`))
	rec = g.do(t, http.MethodGet, "/api/v1/contexts/missing/audit", "u", "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec) != "context not found" {
		t.Fatalf("expected relayed 404, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPublishAndDeprecateVersion(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusCreated, `{"version":{"version":"0.1.0"}}`))

	rec := g.do(t, http.MethodPost, "/api/v1/packages/demo/versions", "u", `{"manifest":"{\"version\":\"0.1.0\"}"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	rec = g.do(t, http.MethodPost, "/api/v1/packages/demo/versions", "u", `{"manifest":[1]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected manifest validation, got %d", rec.Code)
	}

	g.cp.setHandler(jsonHandler(http.StatusOK, `{"version":{"version":"0.1.0"}}`))
	rec = g.do(t, http.MethodPost, "/api/v1/packages/demo/versions/0.1.0/deprecate", "u", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deprecate: %d %s", rec.Code, rec.Body.String())
	}

	calls := g.cp.recorded()
	if len(calls) != 2 {
		t.Fatalf("expected 2 upstream calls, got %+v", calls)
	}
	if calls[0].Body != `{"manifest":{"version":"0.1.0"}}` {
		t.Fatalf("unexpected publish body %s", calls[0].Body)
	}
	if calls[1].Path != "/v1/packages/demo/versions/0.1.0/deprecate" {
		t.Fatalf("unexpected deprecate path %s", calls[1].Path)
	}
	if len(g.audit.packages) != 2 || g.audit.packages[0].Version != "0.1.0" || g.audit.packages[1].Action != "deprecate" {
		t.Fatalf("unexpected package events %+v", g.audit.packages)
	}
}

func TestProxyRouteForwardsWithToken(t *testing.T) {
	g := newTestGateway(t)
	g.cp.setHandler(jsonHandler(http.StatusAccepted, `{"ok":true}`))

	rec := g.do(t, http.MethodPut, "/api/openapi/proxy/v1/things/a%2Fb?x=1&x=2", "user-3", `{"a":1}`)
	if rec.Code != http.StatusAccepted || rec.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected proxy response %d %s", rec.Code, rec.Body.String())
	}
	calls := g.cp.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected one upstream call")
	}
	c := calls[0]
	if c.Method != http.MethodPut || c.Path != "/v1/things/a%2Fb" || c.Query != "x=1&x=2" || c.Subject != "user-3" || c.Body != `{"a":1}` {
		t.Fatalf("unexpected forwarded call %+v", c)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openapi.yaml")
	if err := os.WriteFile(path, []byte("openapi: 3.0.3\ninfo:\n  title: test\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	g := newTestGateway(t, func(o *Options) { o.OpenAPIPath = path })

	rec := g.do(t, http.MethodGet, "/api/openapi", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("openapi: %d %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=60" {
		t.Fatalf("unexpected cache control %q", cc)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}

	missing := newTestGateway(t, func(o *Options) { o.OpenAPIPath = filepath.Join(dir, "nope.yaml") })
	rec = missing.do(t, http.MethodGet, "/api/openapi", "", "")
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec) != "Unable to load OpenAPI spec" {
		t.Fatalf("expected load failure, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOpenAPIRejectsNonOpenAPIYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openapi.yaml")
	if err := os.WriteFile(path, []byte("title: nope\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	g := newTestGateway(t, func(o *Options) { o.OpenAPIPath = path })
	if rec := g.do(t, http.MethodGet, "/api/openapi", "", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRequestIDAndAuditEvent(t *testing.T) {
	g := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil)
	req.Header.Set(defaultUserHeader, "u")
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)

	if rec.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("request id not echoed")
	}
	if len(g.audit.requests) != 1 {
		t.Fatalf("expected one audit event, got %d", len(g.audit.requests))
	}
	ev := g.audit.requests[0]
	if ev.RequestID != "req-42" || ev.UserID != "u" || ev.Route != "/api/v1/packages" || ev.Status != http.StatusOK {
		t.Fatalf("unexpected audit event %+v", ev)
	}

	rec = g.do(t, http.MethodGet, "/health", "", "")
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRateLimitPerUser(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGateway(t, func(o *Options) {
		o.Limiter = ratelimit.NewMemory(1, 1, func() time.Time { return now })
	})
	if rec := g.do(t, http.MethodGet, "/api/v1/packages", "a", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := g.do(t, http.MethodGet, "/api/v1/packages", "a", "")
	if rec.Code != http.StatusTooManyRequests || decodeError(t, rec) != "Rate limited" {
		t.Fatalf("expected 429, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := g.do(t, http.MethodGet, "/api/v1/packages", "b", ""); rec.Code != http.StatusOK {
		t.Fatalf("other user must have its own bucket, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Setenv("INACTU_ALLOWED_ORIGINS", "https://app.inactu.dev")
	g := newTestGateway(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/packages", nil)
	req.Header.Set("Origin", "https://app.inactu.dev")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://app.inactu.dev" {
		t.Fatalf("unexpected preflight %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set(defaultUserHeader, "u")
	rec = httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, got %d", rec.Code)
	}
}
