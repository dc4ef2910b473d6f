// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/absmach/mllproxy/pkg/auth"
	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/mllp"
	"github.com/google/uuid"
)

const (
	msgAuthRequired = "Authentication is required."
	msgAuthFailed   = "Authentication failed: Wrong credentials."
)

// Config holds the HTTP listener configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig enables HTTPS when set
	TLSConfig *tls.Config

	// ContentType is set on successful responses when not empty
	ContentType string

	// KeepAlive is advertised as Keep-Alive: timeout=<s> and used as the
	// idle timeout when positive. Zero closes after every response;
	// negative sends no header.
	KeepAlive time.Duration

	// Timeout bounds reading a request. Zero means unlimited.
	Timeout time.Duration

	// Framed writes replies with MLLP framing instead of the bare payload
	Framed bool

	// SuccessStatus is the status of a forwarded reply (default 201)
	SuccessStatus int

	// Guard, when set, requires matching Basic credentials
	Guard *auth.Guard

	// ShutdownTimeout is the maximum time to wait for in-flight requests
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Server accepts HTTP(S) POST requests and forwards each body as a single
// message, answering with the peer's reply.
type Server struct {
	config    Config
	forwarder forwarder.Forwarder
	handler   handler.Handler
	server    *http.Server
	now       func() time.Time
}

var _ http.Handler = (*Server)(nil)

// New creates a new HTTP listener forwarding through fwd.
func New(cfg Config, fwd forwarder.Forwarder, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SuccessStatus == 0 {
		cfg.SuccessStatus = http.StatusCreated
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	s := &Server{
		config:    cfg,
		forwarder: fwd,
		handler:   h,
		now:       time.Now,
	}

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s,
		TLSConfig:         cfg.TLSConfig,
		ReadTimeout:       cfg.Timeout,
		ReadHeaderTimeout: cfg.Timeout,
		ErrorLog:          slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelDebug),
	}
	if cfg.KeepAlive > 0 {
		s.server.IdleTimeout = cfg.KeepAlive
	}
	if cfg.KeepAlive == 0 {
		s.server.SetKeepAlivesEnabled(false)
	}

	return s
}

// Listen starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := s.config.Logger
	scheme := "http"
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
		scheme = "https"
	}

	logger.Info("HTTP server started",
		slog.String("address", ln.Addr().String()),
		slog.String("scheme", scheme))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, closing HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.String("error", err.Error()))
			return err
		}

		logger.Info("HTTP server shutdown complete")
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.config.Logger
	hctx := s.context(r)
	ctx := r.Context()

	if g := s.config.Guard; g != nil {
		if err := g.Check(r.Header.Get("Authorization")); err != nil {
			logger.Info("Client failed authentication",
				slog.String("remote", hctx.RemoteAddr),
				slog.String("error", err.Error()))
			s.challenge(w, err)
			return
		}
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if err := s.handler.AuthConnect(ctx, hctx); err != nil {
		logger.Debug("connection authorization failed",
			slog.String("remote", hctx.RemoteAddr),
			slog.String("error", err.Error()))
		s.reject(w, err, http.StatusUnauthorized)
		return
	}
	defer func() {
		if err := s.handler.OnDisconnect(context.WithoutCancel(ctx), hctx); err != nil {
			logger.Error("disconnect handler error",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
		}
	}()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("failed to read request body",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := s.handler.AuthMessage(ctx, hctx, &payload); err != nil {
		logger.Debug("message authorization failed",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
		s.reject(w, err, http.StatusForbidden)
		return
	}

	if err := s.handler.OnConnect(ctx, hctx); err != nil {
		logger.Error("connection notification error", slog.String("error", err.Error()))
	}

	logger.Info("Message", slog.String("session", hctx.SessionID), slog.Int("bytes", len(payload)))

	reply, err := s.forwarder.Forward(ctx, hctx, payload)
	if err != nil {
		logger.Error("Forwarding failed",
			slog.String("session", hctx.SessionID),
			slog.String("error_type", gwerrors.Classify(err)),
			slog.String("error", err.Error()))
		if errors.Is(err, gwerrors.ErrConnect) || errors.Is(err, gwerrors.ErrBackendUnavailable) {
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		// No partial response for a broken exchange.
		panic(http.ErrAbortHandler)
	}

	if err := s.handler.OnMessage(ctx, hctx, payload, reply); err != nil {
		logger.Error("message notification error", slog.String("error", err.Error()))
	}

	logger.Info("Response", slog.String("session", hctx.SessionID), slog.Int("bytes", len(reply)))

	body := reply
	if s.config.Framed {
		body = mllp.Encode(reply)
	}
	s.writeReply(w, body)
}

func (s *Server) writeReply(w http.ResponseWriter, body []byte) {
	h := w.Header()
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if s.config.ContentType != "" {
		h.Set("Content-Type", s.config.ContentType)
	}
	switch {
	case s.config.KeepAlive > 0:
		h.Set("Keep-Alive", fmt.Sprintf("timeout=%d", int(s.config.KeepAlive.Seconds())))
	case s.config.KeepAlive == 0:
		h.Set("Connection", "close")
	}
	h.Set("Date", s.now().UTC().Format(http.TimeFormat))

	w.WriteHeader(s.config.SuccessStatus)
	if _, err := w.Write(body); err != nil {
		s.config.Logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) challenge(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", s.config.Guard.Challenge())
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusUnauthorized)

	msg := msgAuthFailed
	if errors.Is(err, auth.ErrMissingCredentials) {
		msg = msgAuthRequired
	}
	w.Write([]byte(msg))
}

func (s *Server) reject(w http.ResponseWriter, err error, status int) {
	if errors.Is(err, gwerrors.ErrRateLimited) {
		status = http.StatusTooManyRequests
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) context(r *http.Request) *handler.Context {
	hctx := &handler.Context{
		SessionID:  uuid.NewString(),
		RemoteAddr: r.RemoteAddr,
		Protocol:   "http",
	}
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		hctx.LocalAddr = addr.String()
	}
	if user, pass, ok := r.BasicAuth(); ok {
		hctx.Username = user
		hctx.Password = []byte(pass)
	}
	if r.TLS != nil {
		hctx.Protocol = "https"
		if len(r.TLS.PeerCertificates) > 0 {
			hctx.Cert = r.TLS.PeerCertificates[0]
		}
	}
	return hctx
}
