// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/absmach/mllproxy"
	"github.com/absmach/mllproxy/examples/simple"
	"github.com/absmach/mllproxy/pkg/auth"
	"github.com/absmach/mllproxy/pkg/breaker"
	httpclient "github.com/absmach/mllproxy/pkg/client/http"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/health"
	"github.com/absmach/mllproxy/pkg/logger"
	"github.com/absmach/mllproxy/pkg/metrics"
	"github.com/absmach/mllproxy/pkg/pool"
	"github.com/absmach/mllproxy/pkg/proxy"
	"github.com/absmach/mllproxy/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	metricsNamespace  = "mllproxy"
	healthCacheTTL    = 10 * time.Second
	healthDialTimeout = 5 * time.Second
	logRotation       = 24 * time.Hour
	serverStopTimeout = 5 * time.Second
)

// app holds the services shared by every bridge of a process.
type app struct {
	global  mllproxy.Global
	metrics *metrics.Metrics
	checker *health.Checker
	logger  *slog.Logger

	closers []func()
}

func run(ctx context.Context, global mllproxy.Global, bridges []bridgeConfig) error {
	fileName := "mllproxy.log"
	if len(bridges) == 1 {
		fileName = string(bridges[0].direction) + ".log"
	}
	log, logFile, err := logger.New(logger.Config{
		Level:    global.LogLevel,
		Format:   global.LogFormat,
		Folder:   global.LogFolder,
		FileName: fileName,
	})
	if err != nil {
		return err
	}
	defer logFile.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		global:  global,
		metrics: metrics.New(metricsNamespace, reg),
		checker: health.NewChecker(healthCacheTTL),
		logger:  log,
	}
	defer a.close()

	var started []*proxy.Bridge
	for _, bc := range bridges {
		b, err := a.newBridge(bc)
		if err != nil {
			for _, s := range started {
				s.Close()
			}
			log.Error("Failed to create bridge",
				slog.String("bridge", string(bc.direction)),
				slog.String("error", err.Error()))
			return err
		}
		started = append(started, b)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	for _, b := range started {
		g.Go(func() error {
			log.Info("Bridge started",
				slog.String("bridge", string(b.Direction())),
				slog.String("address", b.Address()))
			return b.Listen(ctx)
		})
	}

	if global.MetricsPort > 0 {
		h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		mux := http.NewServeMux()
		mux.Handle("/metrics", h)
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", global.MetricsPort, mux, log)
		})
	}

	if global.HealthPort > 0 {
		g.Go(func() error {
			return serveHTTP(ctx, "health", global.HealthPort, a.checker.Handler(), log)
		})
	}

	g.Go(func() error {
		return logFile.RotateEvery(ctx, logRotation)
	})

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, log)
	})

	if err := g.Wait(); err != nil {
		log.Error(fmt.Sprintf("mllproxy terminated with error: %s", err))
		return err
	}
	log.Info("mllproxy stopped")
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		c()
	}
}

func (a *app) newBridge(bc bridgeConfig) (*proxy.Bridge, error) {
	switch bc.direction {
	case proxy.HTTP2MLLP, proxy.HTTPS2MLLP:
		return a.newHTTPBridge(bc)
	case proxy.MLLP2HTTP, proxy.MLLP2HTTPS:
		return a.newMLLPBridge(bc)
	default:
		return nil, fmt.Errorf("unknown bridge %q", bc.direction)
	}
}

func (a *app) newHTTPBridge(bc bridgeConfig) (*proxy.Bridge, error) {
	cfg := bc.config
	name := string(bc.direction)

	address, err := cfg.MLLPAddress()
	if err != nil {
		return nil, err
	}
	serverTLS, err := cfg.ServerTLS()
	if err != nil {
		return nil, err
	}
	mllpTLS, err := cfg.MLLPClientTLS()
	if err != nil {
		return nil, err
	}

	var guard *auth.Guard
	switch {
	case cfg.Username != "" || cfg.Password != "":
		guard = auth.NewBasic(cfg.Username, cfg.Password, auth.DefaultRealm)
	case bc.direction == proxy.HTTPS2MLLP && a.global.Authorization != "":
		guard = auth.NewStatic(a.global.Authorization, auth.DefaultRealm)
	}

	cb := breaker.New(breaker.Config{
		Name:         address,
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
		Logger:       a.logger,
	})
	a.metrics.WatchBreaker(address, cb)

	timeout := mllproxy.Duration(cfg.Timeout)
	hcfg := proxy.HTTPConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLSConfig:       serverTLS,
		ContentType:     cfg.ContentType,
		KeepAlive:       mllproxy.Duration(cfg.KeepAlive),
		Timeout:         timeout,
		Guard:           guard,
		Framed:          !cfg.MLLPParser,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MLLP: pool.Config{
			Address:     address,
			KeepAlive:   mllproxy.Duration(cfg.MLLPKeepAlive),
			MaxMessages: cfg.MLLPMaxMessages,
			Timeout:     timeout,
			DialTimeout: timeout,
			TLSConfig:   mllpTLS,
			Breaker:     cb,
		},
		Middleware: a.instrument(name),
		Logger:     a.logger,
	}

	newBridge := proxy.NewHTTP2MLLP
	if bc.direction == proxy.HTTPS2MLLP {
		newBridge = proxy.NewHTTPS2MLLP
	}
	b, err := newBridge(hcfg, a.handler(cfg))
	if err != nil {
		return nil, err
	}

	if err := a.metrics.RegisterPool(name, address, b.Pool()); err != nil {
		a.logger.Warn("Failed to register pool metrics",
			slog.String("bridge", name),
			slog.String("error", err.Error()))
	}
	a.checker.Register(name+"_mllp_peer", health.DialCheck("tcp", address, healthDialTimeout))
	a.checker.Register(name+"_breaker", health.BreakerCheck(cb))

	return b, nil
}

func (a *app) newMLLPBridge(bc bridgeConfig) (*proxy.Bridge, error) {
	cfg := bc.config
	name := string(bc.direction)

	peer, err := mllproxy.ParseURL(cfg.Peer)
	if err != nil {
		return nil, err
	}
	serverTLS, err := cfg.ServerTLS()
	if err != nil {
		return nil, err
	}
	clientTLS, err := cfg.ClientTLS()
	if err != nil {
		return nil, err
	}

	mcfg := proxy.MLLPConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLSConfig:       serverTLS,
		Timeout:         mllproxy.Duration(cfg.Timeout),
		ShutdownTimeout: cfg.ShutdownTimeout,
		HTTP: httpclient.Config{
			URL:           peer,
			ContentType:   cfg.ContentType,
			TLSConfig:     clientTLS,
			Username:      cfg.Username,
			Password:      cfg.Password,
			Authorization: a.global.Authorization,
			APIKey:        a.global.APIKey,
			UserAgent:     httpclient.DefaultUserAgent + "/" + mllproxy.Version,
		},
		Middleware: a.instrument(name),
		Logger:     a.logger,
	}

	newBridge := proxy.NewMLLP2HTTP
	if bc.direction == proxy.MLLP2HTTPS {
		newBridge = proxy.NewMLLP2HTTPS
	}
	b, err := newBridge(mcfg, a.handler(cfg))
	if err != nil {
		return nil, err
	}

	if address, err := urlAddress(peer); err == nil {
		a.checker.Register(name+"_http_peer", health.DialCheck("tcp", address, healthDialTimeout))
	}

	return b, nil
}

func (a *app) instrument(bridge string) func(forwarder.Forwarder) forwarder.Forwarder {
	return func(next forwarder.Forwarder) forwarder.Forwarder {
		return a.metrics.Forwarder(bridge, next)
	}
}

// handler builds the handler chain of a bridge: metrics, optional rate
// limiting, then audit logging.
func (a *app) handler(cfg mllproxy.Config) handler.Handler {
	var h handler.Handler = simple.New(a.logger)

	if cfg.RateLimitCapacity > 0 || cfg.RateLimitGlobal > 0 {
		rl := &RateLimitedHandler{
			handler: h,
			metrics: a.metrics,
			logger:  a.logger,
		}
		if cfg.RateLimitCapacity > 0 {
			rl.perClientLimiter = ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)
			a.closers = append(a.closers, rl.perClientLimiter.Close)
		}
		if cfg.RateLimitGlobal > 0 {
			rl.globalLimiter = ratelimit.NewTokenBucket(cfg.RateLimitGlobal, cfg.RateLimitGlobal)
		}
		h = rl
	}

	return &InstrumentedHandler{
		handler: h,
		metrics: a.metrics,
	}
}

// urlAddress returns the host:port an HTTP(S) URL connects to.
func urlAddress(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// serveHTTP runs an auxiliary HTTP server until ctx is done.
func serveHTTP(ctx context.Context, name string, port int, h http.Handler, logger *slog.Logger) error {
	addr := net.JoinHostPort("", strconv.Itoa(port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting "+name+" server", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
