package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overlay is the optional YAML file layered between defaults and env.
type Overlay struct {
	Upstream  UpstreamOverlay  `yaml:"upstream"`
	RateLimit RateLimitOverlay `yaml:"rate_limit"`
	Session   SessionOverlay   `yaml:"session"`
	Stream    StreamOverlay    `yaml:"stream"`
	OpenAPI   OpenAPIOverlay   `yaml:"openapi"`
	Listen    ListenOverlay    `yaml:"listen"`
}

type UpstreamOverlay struct {
	TimeoutMs int64 `yaml:"timeout_ms"`
}

type RateLimitOverlay struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type SessionOverlay struct {
	Cookie          string `yaml:"cookie"`
	TrustUserHeader *bool  `yaml:"trust_user_header"`
}

type StreamOverlay struct {
	PollIntervalMs int64 `yaml:"poll_interval_ms"`
}

type OpenAPIOverlay struct {
	Path string `yaml:"path"`
}

type ListenOverlay struct {
	HTTP    string `yaml:"http"`
	Metrics string `yaml:"metrics"`
	GRPC    string `yaml:"grpc"`
}

// LoadOverlay reads a YAML overlay file; an empty path yields an empty overlay.
func LoadOverlay(path string) (*Overlay, error) {
	if path == "" {
		return &Overlay{}, nil
	}
	// #nosec G304 -- overlay path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return &Overlay{}, fmt.Errorf("read gateway config: %w", err)
	}
	return ParseOverlay(data)
}

// ParseOverlay parses overlay bytes (YAML or JSON).
func ParseOverlay(data []byte) (*Overlay, error) {
	var ov Overlay
	if len(data) == 0 {
		return &ov, nil
	}
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return &Overlay{}, fmt.Errorf("parse gateway config: %w", err)
	}
	if err := validateOverlaySchema(data); err != nil {
		return &Overlay{}, err
	}
	return &ov, nil
}

func (o *Overlay) apply(cfg *Config) {
	if o == nil || cfg == nil {
		return
	}
	if o.Upstream.TimeoutMs > 0 {
		cfg.APITimeout = time.Duration(o.Upstream.TimeoutMs) * time.Millisecond
	}
	if o.RateLimit.RPS > 0 {
		cfg.RateLimitRPS = o.RateLimit.RPS
	}
	if o.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = o.RateLimit.Burst
	}
	if o.Session.Cookie != "" {
		cfg.SessionCookie = o.Session.Cookie
	}
	if o.Session.TrustUserHeader != nil {
		cfg.TrustUserHeader = *o.Session.TrustUserHeader
	}
	if o.Stream.PollIntervalMs > 0 {
		cfg.StreamPollInterval = time.Duration(o.Stream.PollIntervalMs) * time.Millisecond
	}
	if o.OpenAPI.Path != "" {
		cfg.OpenAPIPath = o.OpenAPI.Path
	}
	if o.Listen.HTTP != "" {
		cfg.HTTPAddr = o.Listen.HTTP
	}
	if o.Listen.Metrics != "" {
		cfg.MetricsAddr = o.Listen.Metrics
	}
	if o.Listen.GRPC != "" {
		cfg.GRPCAddr = o.Listen.GRPC
	}
}
