package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr       = ":8081"
	defaultMetricsAddr    = ":9092"
	defaultGRPCAddr       = ":8082"
	defaultRedisURL       = "redis://localhost:6379"
	defaultSessionCookie  = "inactu_session"
	defaultOpenAPIPath    = "openapi.yaml"
	defaultAPITimeout     = 10 * time.Second
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	defaultStreamPoll     = 2 * time.Second

	envAPIBaseURL       = "INACTU_API_BASE_URL"
	envPublicAPIBaseURL = "NEXT_PUBLIC_INACTU_API_BASE_URL"
	envAPIAuthSecret    = "INACTU_API_AUTH_SECRET"
	envAPITimeoutMs     = "INACTU_API_TIMEOUT_MS"
	envHTTPAddr         = "GATEWAY_HTTP_ADDR"
	envMetricsAddr      = "GATEWAY_METRICS_ADDR"
	envGRPCAddr         = "GATEWAY_GRPC_ADDR"
	envConfigPath       = "GATEWAY_CONFIG_PATH"
	envRequireUpstream  = "GATEWAY_REQUIRE_UPSTREAM"
	envRedisURL         = "REDIS_URL"
	envNATSURL          = "NATS_URL"
	envSessionCookie    = "INACTU_SESSION_COOKIE"
	envTrustUserHeader  = "INACTU_TRUST_USER_HEADER"
	envOpenAPIPath      = "INACTU_OPENAPI_PATH"
	envRateLimitRPS     = "API_RATE_LIMIT_RPS"
	envRateLimitBurst   = "API_RATE_LIMIT_BURST"
	envStreamPollMs     = "INACTU_LOG_STREAM_POLL_MS"
)

var (
	// ErrMissingBaseURL reports an unset control-plane base URL.
	ErrMissingBaseURL = errors.New(envAPIBaseURL + " or " + envPublicAPIBaseURL + " is required")
	// ErrMissingSecret reports an unset delegation signing secret.
	ErrMissingSecret = errors.New(envAPIAuthSecret + " is required")
)

// Config holds runtime configuration for the web gateway.
type Config struct {
	APIBaseURL         string
	APIAuthSecret      string
	APITimeout         time.Duration
	HTTPAddr           string
	MetricsAddr        string
	GRPCAddr           string
	RedisURL           string
	NatsURL            string
	SessionCookie      string
	TrustUserHeader    bool
	OpenAPIPath        string
	RateLimitRPS       int
	RateLimitBurst     int
	StreamPollInterval time.Duration
	RequireUpstream    bool
	ConfigPath         string
}

// Load returns configuration built from defaults, the optional YAML overlay
// named by GATEWAY_CONFIG_PATH, and environment variables (highest precedence).
// A broken overlay is reported but never prevents a usable Config.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:           defaultHTTPAddr,
		MetricsAddr:        defaultMetricsAddr,
		GRPCAddr:           defaultGRPCAddr,
		RedisURL:           defaultRedisURL,
		SessionCookie:      defaultSessionCookie,
		OpenAPIPath:        defaultOpenAPIPath,
		APITimeout:         defaultAPITimeout,
		RateLimitRPS:       defaultRateLimitRPS,
		RateLimitBurst:     defaultRateLimitBurst,
		StreamPollInterval: defaultStreamPoll,
		ConfigPath:         strings.TrimSpace(os.Getenv(envConfigPath)),
	}

	var overlayErr error
	if cfg.ConfigPath != "" {
		overlay, err := LoadOverlay(cfg.ConfigPath)
		if err != nil {
			overlayErr = err
		} else {
			overlay.apply(cfg)
		}
	}

	cfg.APIBaseURL = NormalizeBaseURL(firstEnv(envAPIBaseURL, envPublicAPIBaseURL))
	cfg.APIAuthSecret = os.Getenv(envAPIAuthSecret)
	if ms, ok := positiveIntEnv(envAPITimeoutMs); ok {
		cfg.APITimeout = time.Duration(ms) * time.Millisecond
	}
	cfg.HTTPAddr = stringEnv(envHTTPAddr, cfg.HTTPAddr)
	cfg.MetricsAddr = stringEnv(envMetricsAddr, cfg.MetricsAddr)
	cfg.GRPCAddr = stringEnv(envGRPCAddr, cfg.GRPCAddr)
	cfg.RedisURL = stringEnv(envRedisURL, cfg.RedisURL)
	cfg.NatsURL = stringEnv(envNATSURL, cfg.NatsURL)
	cfg.SessionCookie = stringEnv(envSessionCookie, cfg.SessionCookie)
	cfg.OpenAPIPath = stringEnv(envOpenAPIPath, cfg.OpenAPIPath)
	if v, ok := positiveIntEnv(envRateLimitRPS); ok {
		cfg.RateLimitRPS = v
	}
	if v, ok := positiveIntEnv(envRateLimitBurst); ok {
		cfg.RateLimitBurst = v
	}
	if ms, ok := positiveIntEnv(envStreamPollMs); ok {
		cfg.StreamPollInterval = time.Duration(ms) * time.Millisecond
	}
	if v, ok := boolEnv(envTrustUserHeader); ok {
		cfg.TrustUserHeader = v
	}
	if v, ok := boolEnv(envRequireUpstream); ok {
		cfg.RequireUpstream = v
	}
	return cfg, overlayErr
}

// Validate reports configuration faults that make upstream calls impossible.
func (c *Config) Validate() error {
	if c == nil {
		return errors.Join(ErrMissingBaseURL, ErrMissingSecret)
	}
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, ErrMissingBaseURL)
	}
	if c.APIAuthSecret == "" {
		errs = append(errs, ErrMissingSecret)
	}
	return errors.Join(errs...)
}

// NormalizeBaseURL trims whitespace and trailing slashes.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// ParseBool accepts the usual truthy spellings.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func (c *Config) String() string {
	secret := "unset"
	if c.APIAuthSecret != "" {
		secret = "set"
	}
	return fmt.Sprintf("api_base_url=%q secret=%s timeout=%s http=%s metrics=%s grpc=%s",
		c.APIBaseURL, secret, c.APITimeout, c.HTTPAddr, c.MetricsAddr, c.GRPCAddr)
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func stringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func positiveIntEnv(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// boolEnv reports ok only when the variable holds a non-blank value.
func boolEnv(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	return ParseBool(raw), true
}
