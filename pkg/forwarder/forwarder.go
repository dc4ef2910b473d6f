// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package forwarder defines the single operation every bridge is built on:
// send one message to a peer and return its one reply.
//
// Two implementations exist. pool.Pool forwards over pooled MLLP
// connections and backs the HTTP listeners. http.Client forwards as an
// HTTP POST and backs the MLLP listeners.
//
//	HTTP(S) listener ──► pool.Pool   ──► MLLP peer
//	MLLP listener    ──► http.Client ──► HTTP(S) peer
package forwarder

import (
	"context"

	"github.com/absmach/mllproxy/pkg/handler"
)

// Forwarder sends msg to its peer and returns the peer's reply.
//
// Implementations must be safe for concurrent use. Errors wrap one of the
// sentinels from pkg/errors so listeners can map them with errors.Is.
type Forwarder interface {
	Forward(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error)
}

// Func adapts an ordinary function to the Forwarder interface.
type Func func(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error)

// Forward calls f(ctx, hctx, msg).
func (f Func) Forward(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error) {
	return f(ctx, hctx, msg)
}
