// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	httpclient "github.com/absmach/mllproxy/pkg/client/http"
	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/server/tcp"
)

// MLLPConfig holds configuration for the MLLP→HTTP(S) bridges.
type MLLPConfig struct {
	Host            string
	Port            string
	TLSConfig       *tls.Config
	Timeout         time.Duration
	ShutdownTimeout time.Duration

	// HTTP configures the client posting to the HTTP(S) peer.
	HTTP httpclient.Config
	// Middleware, when set, wraps the client before the listener uses it.
	Middleware func(forwarder.Forwarder) forwarder.Forwarder
	Logger     *slog.Logger
}

// NewMLLP2HTTP creates an MLLP listener posting every message to an
// HTTP(S) URL.
func NewMLLP2HTTP(cfg MLLPConfig, h handler.Handler) (*Bridge, error) {
	return newMLLPBridge(MLLP2HTTP, cfg, h)
}

// NewMLLP2HTTPS creates an MLLP listener posting every message to an
// HTTPS URL.
func NewMLLP2HTTPS(cfg MLLPConfig, h handler.Handler) (*Bridge, error) {
	u, err := url.Parse(cfg.HTTP.URL)
	if err != nil || u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s requires an https URL, got %q", gwerrors.ErrInvalidConfig, MLLP2HTTPS, cfg.HTTP.URL)
	}
	return newMLLPBridge(MLLP2HTTPS, cfg, h)
}

func newMLLPBridge(dir Direction, cfg MLLPConfig, h handler.Handler) (*Bridge, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("bridge", string(dir)))

	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = cfg.Timeout
	}
	if cfg.HTTP.Logger == nil {
		cfg.HTTP.Logger = logger
	}
	client, err := httpclient.New(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	var fwd forwarder.Forwarder = client
	if cfg.Middleware != nil {
		fwd = cfg.Middleware(client)
	}

	address := net.JoinHostPort(cfg.Host, cfg.Port)
	server := tcp.New(tcp.Config{
		Address:         address,
		TLSConfig:       cfg.TLSConfig,
		Timeout:         cfg.Timeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, fwd, h)

	return &Bridge{
		direction: dir,
		address:   address,
		server:    server,
		client:    client,
	}, nil
}
