package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envAPIBaseURL, envPublicAPIBaseURL, envAPIAuthSecret, envAPITimeoutMs,
		envHTTPAddr, envMetricsAddr, envGRPCAddr, envConfigPath, envRequireUpstream,
		envRedisURL, envNATSURL, envSessionCookie, envTrustUserHeader, envOpenAPIPath,
		envRateLimitRPS, envRateLimitBurst, envStreamPollMs,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.RedisURL != defaultRedisURL {
		t.Fatalf("expected default redis url")
	}
	if cfg.APITimeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.APITimeout)
	}
	if cfg.SessionCookie != "inactu_session" {
		t.Fatalf("unexpected session cookie %q", cfg.SessionCookie)
	}
	if cfg.TrustUserHeader || cfg.RequireUpstream {
		t.Fatalf("expected bool flags off by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envAPIBaseURL, " https://control.example.com/// ")
	t.Setenv(envAPIAuthSecret, "s3cret")
	t.Setenv(envAPITimeoutMs, "2500")
	t.Setenv(envNATSURL, "nats://example:4222")
	t.Setenv(envTrustUserHeader, "yes")
	t.Setenv(envRateLimitRPS, "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://control.example.com" {
		t.Fatalf("expected trailing slashes trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.APITimeout != 2500*time.Millisecond {
		t.Fatalf("unexpected timeout %s", cfg.APITimeout)
	}
	if cfg.NatsURL != "nats://example:4222" {
		t.Fatalf("unexpected nats url")
	}
	if !cfg.TrustUserHeader {
		t.Fatalf("expected trusted header mode")
	}
	if cfg.RateLimitRPS != 7 {
		t.Fatalf("unexpected rps %d", cfg.RateLimitRPS)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadPublicBaseURLFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPublicAPIBaseURL, "http://public:8080/")
	cfg, _ := Load()
	if cfg.APIBaseURL != "http://public:8080" {
		t.Fatalf("expected public fallback, got %q", cfg.APIBaseURL)
	}

	t.Setenv(envAPIBaseURL, "http://private:8080")
	cfg, _ = Load()
	if cfg.APIBaseURL != "http://private:8080" {
		t.Fatalf("expected server-side variable to win, got %q", cfg.APIBaseURL)
	}
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv(envAPITimeoutMs, "abc")
	t.Setenv(envRateLimitBurst, "-3")
	cfg, _ := Load()
	if cfg.APITimeout != defaultAPITimeout {
		t.Fatalf("expected default timeout, got %s", cfg.APITimeout)
	}
	if cfg.RateLimitBurst != defaultRateLimitBurst {
		t.Fatalf("expected default burst, got %d", cfg.RateLimitBurst)
	}
}

func TestValidateReportsMissing(t *testing.T) {
	clearEnv(t)
	cfg, _ := Load()
	err := cfg.Validate()
	if !errors.Is(err, ErrMissingBaseURL) || !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected both faults, got %v", err)
	}

	var nilCfg *Config
	if err := nilCfg.Validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestOverlayThenEnv(t *testing.T) {
	clearEnv(t)
	data := []byte("upstream:\n  timeout_ms: 4000\nrate_limit:\n  rps: 3\nsession:\n  cookie: sid\n  trust_user_header: true\n")
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv(envSessionCookie, "from_env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APITimeout != 4*time.Second {
		t.Fatalf("expected overlay timeout, got %s", cfg.APITimeout)
	}
	if cfg.RateLimitRPS != 3 {
		t.Fatalf("expected overlay rps")
	}
	if cfg.SessionCookie != "from_env" {
		t.Fatalf("expected env to win over overlay, got %q", cfg.SessionCookie)
	}
	if !cfg.TrustUserHeader {
		t.Fatalf("expected overlay trust flag")
	}
}

func TestBlankBoolEnvKeepsOverlay(t *testing.T) {
	clearEnv(t)
	data := []byte("session:\n  trust_user_header: true\n")
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv(envTrustUserHeader, "  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TrustUserHeader {
		t.Fatalf("blank env must not override overlay")
	}

	t.Setenv(envTrustUserHeader, "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TrustUserHeader {
		t.Fatalf("explicit env should win over overlay")
	}

	t.Setenv(envRequireUpstream, "")
	cfg, _ = Load()
	if cfg.RequireUpstream {
		t.Fatalf("blank require flag should keep default")
	}
}

func TestLoadOverlayMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	if err == nil {
		t.Fatalf("expected error for missing overlay")
	}
	if cfg == nil || cfg.APITimeout != defaultAPITimeout {
		t.Fatalf("expected usable defaults")
	}
}

func TestParseOverlayInvalid(t *testing.T) {
	if _, err := ParseOverlay([]byte("upstream: [")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseOverlay([]byte("upstream:\n  timeout_ms: -5\n")); err == nil {
		t.Fatalf("expected range error")
	}
	if _, err := ParseOverlay([]byte("bogus_section: 1\n")); err == nil {
		t.Fatalf("expected unknown section rejected")
	}
	ov, err := ParseOverlay(nil)
	if err != nil || ov == nil {
		t.Fatalf("expected empty overlay, got %v", err)
	}
}

func TestParseBool(t *testing.T) {
	for _, raw := range []string{"1", "true", "YES", " on "} {
		if !ParseBool(raw) {
			t.Fatalf("expected %q truthy", raw)
		}
	}
	for _, raw := range []string{"", "0", "off", "nope"} {
		if ParseBool(raw) {
			t.Fatalf("expected %q falsy", raw)
		}
	}
}

func TestConfigStringHidesSecret(t *testing.T) {
	cfg := &Config{APIAuthSecret: "hunter2"}
	if s := cfg.String(); s == "" || strings.Contains(s, "hunter2") {
		t.Fatalf("secret leaked: %s", s)
	}
}
