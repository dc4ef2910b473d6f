// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mllproxy holds the configuration shared by the gateway binaries.
package mllproxy

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/tlsutil"
	"github.com/caarlos0/env/v11"
)

// Version is the gateway version reported by the CLI and in User-Agent.
var Version = "0.1.0"

const (
	// DefaultMLLPPort is used when an MLLP peer has no port.
	DefaultMLLPPort = "2575"
	// DefaultHTTPContentType is the Content-Type of the plain HTTP bridges.
	DefaultHTTPContentType = "application/hl7-v2+er7; charset=utf-8"
	// DefaultHTTPSContentType is the Content-Type of the HTTPS bridges.
	DefaultHTTPSContentType = "application/hl7-v2; charset=utf-8"
)

// Config holds the settings of a single bridge. Durations are milliseconds,
// matching the command line flags.
type Config struct {
	Host        string `env:"HOST"         envDefault:"0.0.0.0"`
	Port        string `env:"PORT"`
	Peer        string `env:"PEER"`
	Timeout     int    `env:"TIMEOUT"      envDefault:"0"`
	ContentType string `env:"CONTENT_TYPE"`

	// HTTP facing bridges
	KeepAlive       int    `env:"KEEP_ALIVE"        envDefault:"0"`
	MLLPKeepAlive   int    `env:"MLLP_KEEP_ALIVE"   envDefault:"10000"`
	MLLPMaxMessages int    `env:"MLLP_MAX_MESSAGES" envDefault:"-1"`
	MLLPPort        string `env:"MLLP_PORT"         envDefault:"2575"`
	MLLPParser      bool   `env:"MLLP_PARSER"       envDefault:"true"`

	// TLS and credentials
	CertFile string `env:"CERT_FILE"`
	KeyFile  string `env:"KEY_FILE"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	Verify   string `env:"VERIFY"   envDefault:"true"`

	// Outbound MLLP over TLS
	MLLPTLS    bool   `env:"MLLP_TLS"    envDefault:"false"`
	MLLPVerify string `env:"MLLP_VERIFY" envDefault:"true"`

	// Circuit breaker guarding MLLP dials
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`

	// Rate limiting, disabled when 0
	RateLimitCapacity int64 `env:"RATE_LIMIT_CAPACITY" envDefault:"0"`
	RateLimitRefill   int64 `env:"RATE_LIMIT_REFILL"   envDefault:"10"`
	RateLimitGlobal   int64 `env:"RATE_LIMIT_GLOBAL"   envDefault:"0"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Global holds the settings read without a bridge prefix.
type Global struct {
	Authorization string `env:"HTTP_AUTHORIZATION"`
	APIKey        string `env:"API_KEY"`

	LogLevel    string `env:"MLLPROXY_LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"MLLPROXY_LOG_FORMAT"   envDefault:"json"`
	LogFolder   string `env:"MLLPROXY_LOG_FOLDER"`
	MetricsPort int    `env:"MLLPROXY_METRICS_PORT" envDefault:"0"`
	HealthPort  int    `env:"MLLPROXY_HEALTH_PORT"  envDefault:"0"`
}

// NewConfig parses a bridge configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}

// NewGlobal parses the unprefixed settings from the environment.
func NewGlobal() (Global, error) {
	return env.ParseAs[Global]()
}

// Duration converts a millisecond setting. Negative values stay negative.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ServerTLS loads the listener certificate, or returns nil when none is set.
func (c Config) ServerTLS() (*tls.Config, error) {
	return tlsutil.LoadServer(c.CertFile, c.KeyFile)
}

// ClientTLS builds the TLS configuration for outbound HTTPS per Verify.
func (c Config) ClientTLS() (*tls.Config, error) {
	return tlsutil.LoadClient(c.Verify)
}

// MLLPClientTLS builds the TLS configuration for outbound MLLP, or returns
// nil when MLLP over TLS is disabled.
func (c Config) MLLPClientTLS() (*tls.Config, error) {
	if !c.MLLPTLS {
		return nil, nil
	}
	return tlsutil.LoadClient(c.MLLPVerify)
}

// MLLPAddress resolves an MLLP peer given as mllp://host:port, host:port or
// a bare host. A missing port falls back to MLLPPort.
func (c Config) MLLPAddress() (string, error) {
	return ParsePeer(c.Peer, c.MLLPPort)
}

// ParsePeer resolves an MLLP peer to host:port.
func ParsePeer(peer, defaultPort string) (string, error) {
	if peer == "" {
		return "", fmt.Errorf("%w: missing MLLP peer", gwerrors.ErrInvalidConfig)
	}
	if defaultPort == "" {
		defaultPort = DefaultMLLPPort
	}

	host := peer
	if strings.Contains(peer, "://") {
		u, err := url.Parse(peer)
		if err != nil {
			return "", fmt.Errorf("%w: invalid MLLP peer %q: %w", gwerrors.ErrInvalidConfig, peer, err)
		}
		if u.Scheme != "mllp" && u.Scheme != "mllps" {
			return "", fmt.Errorf("%w: unsupported MLLP peer scheme %q", gwerrors.ErrInvalidConfig, u.Scheme)
		}
		host = u.Host
	}

	h, port, err := net.SplitHostPort(host)
	if err != nil {
		// No port, or a bare IPv6 literal.
		h, port = strings.Trim(host, "[]"), defaultPort
	}
	if h == "" {
		return "", fmt.Errorf("%w: missing host in MLLP peer %q", gwerrors.ErrInvalidConfig, peer)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w: invalid port in MLLP peer %q", gwerrors.ErrInvalidConfig, peer)
	}

	return net.JoinHostPort(h, port), nil
}

// ParseURL validates an HTTP(S) peer URL.
func ParseURL(peer string) (string, error) {
	u, err := url.Parse(peer)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL %q: %w", gwerrors.ErrInvalidConfig, peer, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: expected an http(s) URL, got %q", gwerrors.ErrInvalidConfig, peer)
	}
	return u.String(), nil
}
