package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inactu/inactu-web/core/contexts"
	"github.com/inactu/inactu-web/core/delegation"
	"github.com/inactu/inactu-web/core/packages"
	"github.com/inactu/inactu-web/core/proxy"
	"github.com/inactu/inactu-web/core/upstream"
)

const testSecret = "gateway-test-secret"

// recordedCall is one request seen by the fake control plane.
type recordedCall struct {
	Method  string
	Path    string
	Query   string
	Subject string
	Body    string
}

type fakeControlPlane struct {
	mu      sync.Mutex
	calls   []recordedCall
	handler http.HandlerFunc
}

func (f *fakeControlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	subject := ""
	if tok, err := delegation.NewIssuer(delegation.Options{Secret: testSecret}).Verify(raw); err == nil {
		subject = tok.Subject
	}
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		Method:  r.Method,
		Path:    r.URL.EscapedPath(),
		Query:   r.URL.RawQuery,
		Subject: subject,
		Body:    string(body),
	})
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
		return
	}
	handler(w, r)
}

func (f *fakeControlPlane) setHandler(h http.HandlerFunc) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeControlPlane) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

type stubAudit struct {
	mu       sync.Mutex
	requests []AuditEvent
	statuses []StatusRequestEvent
	packages []PackageEvent
}

func (s *stubAudit) ExportAudit(_ context.Context, e AuditEvent) error {
	s.mu.Lock()
	s.requests = append(s.requests, e)
	s.mu.Unlock()
	return nil
}

func (s *stubAudit) ExportStatusRequest(_ context.Context, e StatusRequestEvent) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, e)
	s.mu.Unlock()
	return nil
}

func (s *stubAudit) ExportPackageEvent(_ context.Context, e PackageEvent) error {
	s.mu.Lock()
	s.packages = append(s.packages, e)
	s.mu.Unlock()
	return nil
}

type testGateway struct {
	handler http.Handler
	cp      *fakeControlPlane
	audit   *stubAudit
	opts    Options
}

// newTestGateway wires the gateway against a fake control plane. Callers are
// identified by the X-Inactu-User header.
func newTestGateway(t *testing.T, mutate ...func(*Options)) *testGateway {
	t.Helper()
	cp := &fakeControlPlane{}
	srv := httptest.NewServer(cp)
	t.Cleanup(srv.Close)
	return newTestGatewayWithBase(t, srv.URL, cp, mutate...)
}

func newTestGatewayWithBase(t *testing.T, base string, cp *fakeControlPlane, mutate ...func(*Options)) *testGateway {
	t.Helper()
	issuer := delegation.NewIssuer(delegation.Options{Secret: testSecret})
	client := upstream.New(upstream.Config{BaseURL: base, Timeout: 2 * time.Second}, issuer)
	audit := &stubAudit{}
	opts := Options{
		Contexts:     contexts.NewService(client),
		Packages:     packages.NewService(client),
		Proxy:        proxy.New(proxy.Config{BaseURL: base, Prefix: ProxyPrefix}, issuer, proxy.WithUser(UserID)),
		Auth:         HeaderProvider{},
		Audit:        audit,
		PollInterval: 20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return &testGateway{handler: NewHandler(opts), cp: cp, audit: audit, opts: opts}
}

func (g *testGateway) do(t *testing.T, method, target, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if user != "" {
		req.Header.Set(defaultUserHeader, user)
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
