package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inactu/inactu-web/core/delegation"
)

func newIssuer() *delegation.Issuer {
	return delegation.NewIssuer(delegation.Options{Secret: "test-secret"})
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) ObserveUpstream(_ string, outcome string, _ float64) {
	m.outcomes = append(m.outcomes, outcome)
}

func TestCallAttachesTokenAndHeaders(t *testing.T) {
	issuer := newIssuer()
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ctx-1"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, issuer)
	resp := client.Call(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/v1/contexts",
		UserID: "user-7",
		Body:   []byte(`{"status":"starting"}`),
	})
	if resp.StatusCode != http.StatusCreated || !resp.OK() {
		t.Fatalf("unexpected response %+v", resp)
	}
	if string(gotBody) != `{"status":"starting"}` {
		t.Fatalf("body not forwarded: %s", gotBody)
	}
	if ct := got.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected default content type, got %q", ct)
	}
	if cc := got.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("expected no-store, got %q", cc)
	}
	auth := got.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("expected bearer token, got %q", auth)
	}
	tok, err := issuer.Verify(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tok.Subject != "user-7" {
		t.Fatalf("expected subject user-7, got %q", tok.Subject)
	}
}

func TestCallKeepsExplicitContentType(t *testing.T) {
	var ct string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, newIssuer())
	client.Call(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "/x",
		UserID: "u",
		Body:   []byte("a=b"),
		Header: http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
	})
	if ct != "application/x-www-form-urlencoded" {
		t.Fatalf("explicit content type overwritten: %q", ct)
	}
}

func TestCallWithoutBodyHasNoContentType(t *testing.T) {
	var ct string
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"logs":[]}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, newIssuer())
	resp := client.Call(context.Background(), Request{
		Path:   "/v1/contexts/c1/logs",
		UserID: "u",
		Query:  map[string][]string{"severity": {"error"}},
	})
	if !resp.OK() {
		t.Fatalf("unexpected response %+v", resp)
	}
	if ct != "" {
		t.Fatalf("expected no content type without body, got %q", ct)
	}
	if query != "severity=error" {
		t.Fatalf("unexpected query %q", query)
	}
}

func TestCallMissingBaseURLMakesNoNetworkCall(t *testing.T) {
	var dialed atomic.Int32
	hc := &http.Client{Transport: &http.Transport{
		DialContext: func(context.Context, string, string) (net.Conn, error) {
			dialed.Add(1)
			return nil, io.EOF
		},
	}}
	m := &recordingMetrics{}
	client := New(Config{}, newIssuer(), WithHTTPClient(hc), WithMetrics(m))

	resp := client.Call(context.Background(), Request{Path: "/v1/packages", UserID: "u"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if resp.Fault != FaultConfig {
		t.Fatalf("expected config fault, got %q", resp.Fault)
	}
	if dialed.Load() != 0 {
		t.Fatalf("expected no network attempt")
	}
	var body ErrorBody
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Error == "" {
		t.Fatalf("expected error payload, got %s", resp.Body)
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != "config" {
		t.Fatalf("expected config outcome observed, got %v", m.outcomes)
	}
}

func TestCallMissingSecretIsConfigFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Errorf("upstream must not be called without a token")
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, delegation.NewIssuer(delegation.Options{}))
	resp := client.Call(context.Background(), Request{Path: "/v1/packages", UserID: "u"})
	if resp.StatusCode != http.StatusInternalServerError || resp.Fault != FaultConfig {
		t.Fatalf("expected 500 config fault, got %d %q", resp.StatusCode, resp.Fault)
	}
}

func TestCallUnreachableIsBadGateway(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	client := New(Config{BaseURL: "http://" + addr}, newIssuer())
	resp := client.Call(context.Background(), Request{Path: "/v1/packages", UserID: "u"})
	if resp.StatusCode != http.StatusBadGateway || resp.Fault != FaultUnreachable {
		t.Fatalf("expected 502 unreachable, got %d %q", resp.StatusCode, resp.Fault)
	}
}

func TestCallTimeoutIsBadGateway(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, newIssuer())
	resp := client.Call(context.Background(), Request{Path: "/slow", UserID: "u"})
	if resp.StatusCode != http.StatusBadGateway || resp.Fault != FaultTimeout {
		t.Fatalf("expected 502 timeout, got %d %q", resp.StatusCode, resp.Fault)
	}
}

func TestCallPassesUpstreamErrorsVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"package already exists"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, newIssuer())
	resp := client.Call(context.Background(), Request{Method: http.MethodPost, Path: "/v1/packages", UserID: "u", Body: []byte(`{}`)})
	if resp.StatusCode != http.StatusConflict || resp.Fault != FaultNone {
		t.Fatalf("expected relayed 409, got %d %q", resp.StatusCode, resp.Fault)
	}
	if msg := resp.ErrorMessage("fallback"); msg != "package already exists" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestCallBodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, MaxBodyBytes: 16}, newIssuer())
	resp := client.Call(context.Background(), Request{Path: "/big", UserID: "u"})
	if resp.StatusCode != http.StatusBadGateway || resp.Fault != FaultUnexpected {
		t.Fatalf("expected 502 unexpected, got %d %q", resp.StatusCode, resp.Fault)
	}
}

func TestClampTimeout(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{0, time.Millisecond},
		{-time.Second, time.Millisecond},
		{5 * time.Second, 5 * time.Second},
		{10 * time.Minute, MaxTimeout},
	}
	for _, tc := range cases {
		if got := ClampTimeout(tc.in, MaxTimeout); got != tc.want {
			t.Fatalf("ClampTimeout(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
	client := New(Config{BaseURL: "http://x", Timeout: time.Hour}, newIssuer())
	if client.Timeout() != MaxTimeout {
		t.Fatalf("expected configured timeout clamped, got %s", client.Timeout())
	}
	if New(Config{}, newIssuer()).Timeout() != DefaultTimeout {
		t.Fatalf("expected default timeout")
	}
}
