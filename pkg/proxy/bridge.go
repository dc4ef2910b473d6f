// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"net"

	httpclient "github.com/absmach/mllproxy/pkg/client/http"
	"github.com/absmach/mllproxy/pkg/pool"
)

// Direction names a bridge preset.
type Direction string

const (
	HTTP2MLLP  Direction = "http2mllp"
	HTTPS2MLLP Direction = "https2mllp"
	MLLP2HTTP  Direction = "mllp2http"
	MLLP2HTTPS Direction = "mllp2https"
)

type server interface {
	Listen(ctx context.Context) error
	Serve(ctx context.Context, ln net.Listener) error
}

// Bridge couples one listener with the forwarder it feeds.
type Bridge struct {
	direction Direction
	address   string
	server    server
	pool      *pool.Pool
	client    *httpclient.Client
}

// Listen starts the bridge and blocks until the context is cancelled.
// The forwarder is closed on return.
func (b *Bridge) Listen(ctx context.Context) error {
	defer b.Close()
	return b.server.Listen(ctx)
}

// Serve is like Listen on an existing listener.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	defer b.Close()
	return b.server.Serve(ctx, ln)
}

// Close releases the forwarder's connections.
func (b *Bridge) Close() error {
	if b.client != nil {
		b.client.CloseIdleConnections()
	}
	if b.pool != nil {
		return b.pool.Close()
	}
	return nil
}

// Direction returns the bridge preset.
func (b *Bridge) Direction() Direction {
	return b.direction
}

// Address returns the configured listen address.
func (b *Bridge) Address() string {
	return b.address
}

// Pool returns the MLLP pool of an HTTP→MLLP bridge, or nil.
func (b *Bridge) Pool() *pool.Pool {
	return b.pool
}
