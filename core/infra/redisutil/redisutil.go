package redisutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/inactu/inactu-web/core/infra/config"
	"github.com/redis/go-redis/v9"
)

const (
	envTLSCA         = "REDIS_TLS_CA"
	envTLSCert       = "REDIS_TLS_CERT"
	envTLSKey        = "REDIS_TLS_KEY"
	envTLSInsecure   = "REDIS_TLS_INSECURE"
	envTLSServerName = "REDIS_TLS_SERVER_NAME"
	envClusterAddrs  = "REDIS_CLUSTER_ADDRESSES"

	pingTimeout = 3 * time.Second
)

// Connect builds a client for url and verifies it answers PING.
func Connect(ctx context.Context, url string) (redis.UniversalClient, error) {
	client, err := NewClient(url)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewClient creates a universal client; REDIS_CLUSTER_ADDRESSES switches it
// to cluster mode.
func NewClient(url string) (redis.UniversalClient, error) {
	opts, err := ParseOptions(url)
	if err != nil {
		return nil, err
	}
	addrs := splitAddrs(os.Getenv(envClusterAddrs))
	if len(addrs) == 0 {
		addrs = []string{opts.Addr}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}), nil
}

// ParseOptions parses a redis URL and layers TLS settings from the environment.
func ParseOptions(url string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	env := readTLSEnv()
	if env.empty() {
		return opts, nil
	}
	tlsCfg, err := env.build(opts.TLSConfig)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = tlsCfg
	return opts, nil
}

type tlsEnv struct {
	caPath     string
	certPath   string
	keyPath    string
	serverName string
	insecure   bool
}

func readTLSEnv() tlsEnv {
	return tlsEnv{
		caPath:     strings.TrimSpace(os.Getenv(envTLSCA)),
		certPath:   strings.TrimSpace(os.Getenv(envTLSCert)),
		keyPath:    strings.TrimSpace(os.Getenv(envTLSKey)),
		serverName: strings.TrimSpace(os.Getenv(envTLSServerName)),
		insecure:   config.ParseBool(os.Getenv(envTLSInsecure)),
	}
}

func (e tlsEnv) empty() bool {
	return e.caPath == "" && e.certPath == "" && e.keyPath == "" && e.serverName == "" && !e.insecure
}

func (e tlsEnv) build(existing *tls.Config) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if existing != nil {
		cfg = existing.Clone()
	}
	if e.serverName != "" {
		cfg.ServerName = e.serverName
	}
	cfg.InsecureSkipVerify = cfg.InsecureSkipVerify || e.insecure // #nosec G402 -- operator opt-in.

	if e.caPath != "" {
		// #nosec G304 -- CA path is operator-provided.
		pem, err := os.ReadFile(e.caPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("redis tls ca parse: %s", e.caPath)
		}
		cfg.RootCAs = pool
	}

	switch {
	case e.certPath == "" && e.keyPath == "":
	case e.certPath == "" || e.keyPath == "":
		return nil, fmt.Errorf("redis tls cert/key must be set together")
	default:
		cert, err := tls.LoadX509KeyPair(e.certPath, e.keyPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func splitAddrs(raw string) []string {
	return strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
