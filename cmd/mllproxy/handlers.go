// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/handler"
	"github.com/absmach/mllproxy/pkg/metrics"
	"github.com/absmach/mllproxy/pkg/ratelimit"
)

// RateLimitedHandler wraps a handler with rate limiting. Every message
// consumes a token of its client's bucket.
type RateLimitedHandler struct {
	handler          handler.Handler
	perClientLimiter *ratelimit.Limiter
	globalLimiter    *ratelimit.TokenBucket
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

var _ handler.Handler = (*RateLimitedHandler)(nil)

// AuthConnect implements handler.Handler with the global connection limit.
func (h *RateLimitedHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	if h.globalLimiter != nil && !h.globalLimiter.Allow() {
		h.metrics.RateLimitedRequests.WithLabelValues(hctx.Protocol, "global").Inc()
		h.logger.Warn("Global rate limit exceeded",
			slog.String("remote", hctx.RemoteAddr),
			slog.String("protocol", hctx.Protocol))
		return ratelimit.ErrRateLimitExceeded
	}

	return h.handler.AuthConnect(ctx, hctx)
}

// AuthMessage implements handler.Handler with the per-client limit.
func (h *RateLimitedHandler) AuthMessage(ctx context.Context, hctx *handler.Context, payload *[]byte) error {
	if h.perClientLimiter == nil {
		return h.handler.AuthMessage(ctx, hctx, payload)
	}

	clientID := clientID(hctx)
	if !h.perClientLimiter.Allow(clientID) {
		h.metrics.RateLimitedRequests.WithLabelValues(hctx.Protocol, "per_client").Inc()
		h.logger.Warn("Per-client rate limit exceeded",
			slog.String("client", clientID),
			slog.String("protocol", hctx.Protocol))
		return ratelimit.ErrRateLimitExceeded
	}

	return h.handler.AuthMessage(ctx, hctx, payload)
}

// OnConnect implements handler.Handler.
func (h *RateLimitedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnConnect(ctx, hctx)
}

// OnMessage implements handler.Handler.
func (h *RateLimitedHandler) OnMessage(ctx context.Context, hctx *handler.Context, request, reply []byte) error {
	return h.handler.OnMessage(ctx, hctx, request, reply)
}

// OnDisconnect implements handler.Handler.
func (h *RateLimitedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnDisconnect(ctx, hctx)
}

// clientID keys rate limits by username, or by remote host without port.
func clientID(hctx *handler.Context) string {
	if hctx.Username != "" {
		return hctx.Username
	}
	host, _, err := net.SplitHostPort(hctx.RemoteAddr)
	if err != nil {
		return hctx.RemoteAddr
	}
	return host
}

// InstrumentedHandler wraps a handler with metrics instrumentation.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics

	// sessions holds the connect time of accepted sessions.
	sessions sync.Map
}

var _ handler.Handler = (*InstrumentedHandler)(nil)

// AuthConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	err := h.handler.AuthConnect(ctx, hctx)
	if err != nil {
		h.metrics.TotalConnections.WithLabelValues(hctx.Protocol, "rejected").Inc()
		h.authFailed(hctx, "connect", err)
	}
	return err
}

// AuthMessage implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthMessage(ctx context.Context, hctx *handler.Context, payload *[]byte) error {
	err := h.handler.AuthMessage(ctx, hctx, payload)
	if err != nil {
		h.metrics.MessagesTotal.WithLabelValues(hctx.Protocol, "rejected").Inc()
		h.authFailed(hctx, "message", err)
		return err
	}

	h.metrics.RequestSize.WithLabelValues(hctx.Protocol).Observe(float64(len(*payload)))
	return nil
}

// OnConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.sessions.Store(hctx.SessionID, time.Now())
	h.metrics.ActiveConnections.WithLabelValues(hctx.Protocol).Inc()
	h.metrics.TotalConnections.WithLabelValues(hctx.Protocol, "accepted").Inc()

	return h.handler.OnConnect(ctx, hctx)
}

// OnMessage implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnMessage(ctx context.Context, hctx *handler.Context, request, reply []byte) error {
	h.metrics.MessagesTotal.WithLabelValues(hctx.Protocol, "success").Inc()
	h.metrics.ResponseSize.WithLabelValues(hctx.Protocol).Observe(float64(len(reply)))

	return h.handler.OnMessage(ctx, hctx, request, reply)
}

// OnDisconnect implements handler.Handler with metrics. Sessions that never
// reached OnConnect are not counted.
func (h *InstrumentedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	if v, ok := h.sessions.LoadAndDelete(hctx.SessionID); ok {
		h.metrics.ActiveConnections.WithLabelValues(hctx.Protocol).Dec()
		h.metrics.ConnectionDuration.WithLabelValues(hctx.Protocol).Observe(time.Since(v.(time.Time)).Seconds())
	}

	return h.handler.OnDisconnect(ctx, hctx)
}

func (h *InstrumentedHandler) authFailed(hctx *handler.Context, stage string, err error) {
	// Rate limiting is counted by RateLimitedHandler.
	if errors.Is(err, gwerrors.ErrRateLimited) {
		return
	}
	h.metrics.AuthFailures.WithLabelValues(hctx.Protocol, stage).Inc()
}
