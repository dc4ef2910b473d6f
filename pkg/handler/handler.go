// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"crypto/x509"
)

// Context carries session metadata for a single MLLP connection or HTTP
// request. It is passed to every Handler method.
type Context struct {
	// SessionID is a unique identifier for this connection or request
	SessionID string

	// Username from HTTP Basic auth, if any
	Username string

	// Password from HTTP Basic auth (raw bytes, not hashed)
	Password []byte

	// RemoteAddr is the client's network address
	RemoteAddr string

	// LocalAddr is the listener address the client reached
	LocalAddr string

	// Protocol indicates the inbound protocol (mllp, mllps, http, https)
	Protocol string

	// Cert is the client's TLS certificate (if using mTLS)
	Cert *x509.Certificate
}

// Handler defines authorization and notification callbacks for gateway events.
// Listeners call these methods at fixed points of the message lifecycle.
//
// Authorization methods (AuthConnect, AuthMessage) are called BEFORE a
// message is forwarded. They can:
// - Return an error to reject the connection or message
// - Modify the payload via its pointer
//
// Notification methods (OnConnect, OnMessage, OnDisconnect) are called AFTER
// successful actions for audit logging or metrics. Errors from these methods
// are logged but never change the outcome.
type Handler interface {
	// AuthConnect authorizes a new MLLP connection or HTTP request.
	// Return an error to reject it.
	AuthConnect(ctx context.Context, hctx *Context) error

	// AuthMessage authorizes a single message before it is forwarded.
	// The payload can be replaced via its pointer.
	AuthMessage(ctx context.Context, hctx *Context, payload *[]byte) error

	// OnConnect is called after a connection or request was accepted.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnMessage is called after the peer answered a forwarded message.
	// Note: request and reply must not be modified.
	OnMessage(ctx context.Context, hctx *Context, request, reply []byte) error

	// OnDisconnect is called when a client disconnects (gracefully or due to error).
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler is a Handler implementation that allows everything.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) AuthMessage(ctx context.Context, hctx *Context, payload *[]byte) error {
	return nil
}

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnMessage(ctx context.Context, hctx *Context, request, reply []byte) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}
