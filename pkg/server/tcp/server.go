// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/mllp"
	"github.com/google/uuid"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the MLLP listener configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// Timeout bounds each read and write on a client connection, including
	// the wait for the next message. Zero means unlimited.
	Timeout time.Duration

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts MLLP connections and forwards every decoded message,
// writing each reply back as a frame before reading the next message.
type Server struct {
	config    Config
	forwarder forwarder.Forwarder
	handler   handler.Handler
	wg        sync.WaitGroup
}

// New creates a new MLLP listener with the given configuration, forwarder, and handler.
func New(cfg Config, fwd forwarder.Forwarder, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	return &Server{
		config:    cfg,
		forwarder: fwd,
		handler:   h,
	}
}

// Listen starts the MLLP server and blocks until the context is cancelled.
// It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	logger := s.config.Logger

	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		logger.Info("TLS enabled", slog.String("address", listener.Addr().String()))
	}

	logger.Info("MLLP server started", slog.String("address", listener.Addr().String()))

	// Active connections outlive ctx until the drain timeout.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.logResult(conn, s.handleConn(connCtx, conn))
			}()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
		return ErrShutdownTimeout
	}
}

// handleConn serves one client connection:
// 1. Creating a handler context with connection metadata
// 2. Decoding frames in arrival order
// 3. Forwarding each message and writing its reply before the next read
// 4. Notifying the handler when the client goes away
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) error {
	defer inbound.Close()

	// Forced shutdown unblocks pending reads.
	stop := context.AfterFunc(ctx, func() { inbound.Close() })
	defer stop()

	hctx := &handler.Context{
		SessionID:  uuid.NewString(),
		RemoteAddr: inbound.RemoteAddr().String(),
		LocalAddr:  inbound.LocalAddr().String(),
		Protocol:   "mllp",
	}

	if tlsConn, ok := inbound.(*tls.Conn); ok {
		hctx.Protocol = "mllps"
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			hctx.Cert = state.PeerCertificates[0]
		}
	}

	if err := s.handler.AuthConnect(ctx, hctx); err != nil {
		return gwerrors.New("connect", hctx.Protocol, hctx.SessionID, hctx.RemoteAddr, err)
	}
	if err := s.handler.OnConnect(ctx, hctx); err != nil {
		s.config.Logger.Error("connection notification error", slog.String("error", err.Error()))
	}
	defer func() {
		if err := s.handler.OnDisconnect(context.WithoutCancel(ctx), hctx); err != nil {
			s.config.Logger.Error("disconnect handler error",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
		}
	}()

	s.config.Logger.Debug("connection established",
		slog.String("session", hctx.SessionID),
		slog.String("client", hctx.RemoteAddr))

	w := bufio.NewWriter(inbound)
	if err := s.extendDeadline(inbound); err != nil {
		return err
	}

	for msg, err := range mllp.NewReader(inbound).All() {
		if err != nil {
			return err
		}

		s.config.Logger.Info("Message", slog.String("session", hctx.SessionID), slog.Int("bytes", len(msg)))

		if err := s.handler.AuthMessage(ctx, hctx, &msg); err != nil {
			return gwerrors.New("authorize", hctx.Protocol, hctx.SessionID, hctx.RemoteAddr, err)
		}

		reply, err := s.forwarder.Forward(ctx, hctx, msg)
		if err != nil {
			return gwerrors.New("forward", hctx.Protocol, hctx.SessionID, hctx.RemoteAddr, err)
		}

		if err := s.handler.OnMessage(ctx, hctx, msg, reply); err != nil {
			s.config.Logger.Error("message notification error", slog.String("error", err.Error()))
		}

		if err := s.extendDeadline(inbound); err != nil {
			return err
		}
		if err := mllp.Write(w, reply); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}

		s.config.Logger.Info("Response", slog.String("session", hctx.SessionID), slog.Int("bytes", len(reply)))
	}

	return nil
}

func (s *Server) extendDeadline(conn net.Conn) error {
	if s.config.Timeout <= 0 {
		return nil
	}
	return conn.SetDeadline(time.Now().Add(s.config.Timeout))
}

func (s *Server) logResult(conn net.Conn, err error) {
	logger := s.config.Logger.With(slog.String("remote", conn.RemoteAddr().String()))

	var ue *gwerrors.UpstreamError
	switch {
	case err == nil || isDisconnect(err):
		logger.Debug("connection closed")
	case errors.As(err, &ue):
		logger.Error("HTTP response error", slog.Int("status", ue.StatusCode))
	case errors.Is(err, gwerrors.ErrConnect):
		logger.Error("HTTP connection error", slog.String("error", err.Error()))
	default:
		logger.Warn("connection handler error",
			slog.String("error_type", gwerrors.Classify(err)),
			slog.String("error", err.Error()))
	}
}

// isDisconnect reports whether err means the client went away.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed)
}
