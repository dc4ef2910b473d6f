// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/absmach/mllproxy/pkg/auth"
	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/pool"
	httpserver "github.com/absmach/mllproxy/pkg/server/http"
)

// HTTPConfig holds configuration for the HTTP(S)→MLLP bridges.
type HTTPConfig struct {
	Host            string
	Port            string
	TLSConfig       *tls.Config
	ContentType     string
	KeepAlive       time.Duration
	Timeout         time.Duration
	Guard           *auth.Guard
	Framed          bool
	ShutdownTimeout time.Duration

	// MLLP configures the pool to the MLLP peer.
	MLLP pool.Config
	// Middleware, when set, wraps the pool before the listener uses it.
	Middleware func(forwarder.Forwarder) forwarder.Forwarder
	Logger     *slog.Logger
}

// NewHTTP2MLLP creates a plain HTTP listener forwarding to an MLLP peer.
// Replies are answered with 201 Created.
func NewHTTP2MLLP(cfg HTTPConfig, h handler.Handler) (*Bridge, error) {
	if cfg.TLSConfig != nil {
		return nil, fmt.Errorf("%w: %s does not terminate TLS", gwerrors.ErrInvalidConfig, HTTP2MLLP)
	}
	return newHTTPBridge(HTTP2MLLP, cfg, http.StatusCreated, h)
}

// NewHTTPS2MLLP creates an HTTPS listener forwarding to an MLLP peer.
// Replies are answered with 200 OK.
func NewHTTPS2MLLP(cfg HTTPConfig, h handler.Handler) (*Bridge, error) {
	if cfg.TLSConfig == nil {
		return nil, fmt.Errorf("%w: %s requires a certificate and key", gwerrors.ErrInvalidConfig, HTTPS2MLLP)
	}
	return newHTTPBridge(HTTPS2MLLP, cfg, http.StatusOK, h)
}

func newHTTPBridge(dir Direction, cfg HTTPConfig, status int, h handler.Handler) (*Bridge, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("bridge", string(dir)))

	if cfg.MLLP.Logger == nil {
		cfg.MLLP.Logger = logger
	}
	p, err := pool.New(cfg.MLLP)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLLP pool: %w", err)
	}

	var fwd forwarder.Forwarder = p
	if cfg.Middleware != nil {
		fwd = cfg.Middleware(p)
	}

	address := net.JoinHostPort(cfg.Host, cfg.Port)
	server := httpserver.New(httpserver.Config{
		Address:         address,
		TLSConfig:       cfg.TLSConfig,
		ContentType:     cfg.ContentType,
		KeepAlive:       cfg.KeepAlive,
		Timeout:         cfg.Timeout,
		Framed:          cfg.Framed,
		SuccessStatus:   status,
		Guard:           cfg.Guard,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, fwd, h)

	return &Bridge{
		direction: dir,
		address:   address,
		server:    server,
		pool:      p,
	}, nil
}
