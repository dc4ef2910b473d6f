// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/mllproxy/pkg/breaker"
	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = fmt.Errorf("%w: connection pool is closed", gwerrors.ErrBackendUnavailable)

// DialFunc opens a new connection to address.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds connection pool configuration.
type Config struct {
	// Address is the MLLP peer in host:port form.
	Address string
	// KeepAlive is how long a released connection stays pooled.
	// Negative keeps it forever, zero never pools.
	KeepAlive time.Duration
	// MaxMessages closes a connection once it carried this many messages.
	// Negative means unlimited.
	MaxMessages int
	// Timeout bounds each request/reply exchange. Zero means unlimited.
	Timeout time.Duration
	// DialTimeout bounds connection establishment. Zero means unlimited.
	DialTimeout time.Duration
	// TCPKeepAlive is the TCP keep-alive probe period. Zero uses the OS default.
	TCPKeepAlive time.Duration
	// TLSConfig enables MLLP over TLS when set.
	TLSConfig *tls.Config
	// Breaker, when set, guards dials.
	Breaker *breaker.CircuitBreaker
	// Dial overrides the default dialer.
	Dial   DialFunc
	Logger *slog.Logger
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Idle     int
	Dials    int64
	Reuses   int64
	Evicted  int64
	Recycled int64
	Failures int64
}

// Pool keeps live MLLP connections to a single peer.
//
// Released connections are stacked and handed out last-in first-out.
// Connections are stamped on release, so the stack is ordered by idle time
// with the oldest at the bottom; a single evictor goroutine closes entries
// whose keep-alive elapsed. A connection is owned by exactly one of the
// idle stack, a caller, or the evictor, and only the pool mutex moves it.
type Pool struct {
	config Config
	dial   DialFunc
	logger *slog.Logger

	mu     sync.Mutex
	idle   []*Conn
	closed bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	dials    atomic.Int64
	reuses   atomic.Int64
	evicted  atomic.Int64
	recycled atomic.Int64
	failures atomic.Int64
}

var _ forwarder.Forwarder = (*Pool)(nil)

// New creates a connection pool. No connection is opened until the first Acquire.
func New(config Config) (*Pool, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("%w: pool address is required", gwerrors.ErrInvalidConfig)
	}
	if _, _, err := net.SplitHostPort(config.Address); err != nil {
		return nil, fmt.Errorf("%w: pool address %q: %w", gwerrors.ErrInvalidConfig, config.Address, err)
	}
	if config.Timeout < 0 || config.DialTimeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", gwerrors.ErrInvalidConfig)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	p := &Pool{
		config: config,
		dial:   config.Dial,
		logger: config.Logger.With(slog.String("peer", config.Address)),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if p.dial == nil {
		p.dial = defaultDialer(config)
	}

	if config.KeepAlive > 0 {
		p.wg.Add(1)
		go p.evict()
	}

	return p, nil
}

func defaultDialer(config Config) DialFunc {
	nd := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.TCPKeepAlive,
	}
	if config.TLSConfig != nil {
		td := &tls.Dialer{NetDialer: nd, Config: config.TLSConfig}
		return td.DialContext
	}
	return nd.DialContext
}

// Acquire returns the most recently released connection, or dials a new one
// when none is idle. Dial errors wrap errors.ErrConnect and are not retried.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		c.idleSince = time.Time{}
		p.mu.Unlock()

		p.reuses.Add(1)
		return c, nil
	}
	p.mu.Unlock()

	return p.connect(ctx)
}

func (p *Pool) connect(ctx context.Context) (*Conn, error) {
	if p.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.DialTimeout)
		defer cancel()
	}

	var nc net.Conn
	dial := func() error {
		var err error
		nc, err = p.dial(ctx, "tcp", p.config.Address)
		return err
	}

	var err error
	if p.config.Breaker != nil {
		err = p.config.Breaker.Call(dial)
	} else {
		err = dial()
	}
	if err != nil {
		p.failures.Add(1)
		return nil, fmt.Errorf("%w: dial %s: %w", gwerrors.ErrConnect, p.config.Address, err)
	}

	p.dials.Add(1)
	c := newConn(nc, p.config.Timeout)
	p.logger.Debug("Opened MLLP connection", slog.String("conn", c.id))

	return c, nil
}

// Release hands c back to the pool.
//
// Closed connections are dropped. A connection that reached MaxMessages is
// closed, as is every connection when KeepAlive is zero or the pool is closed.
func (p *Pool) Release(c *Conn) {
	if c == nil || c.closed {
		return
	}

	if p.config.MaxMessages >= 0 && c.messages >= p.config.MaxMessages {
		p.recycled.Add(1)
		p.logger.Debug("Recycled MLLP connection",
			slog.String("conn", c.id),
			slog.Int("messages", c.messages),
			slog.Duration("age", time.Since(c.createdAt)),
		)
		c.close()
		return
	}
	if p.config.KeepAlive == 0 {
		c.close()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.close()
		return
	}
	c.idleSince = time.Now()
	p.idle = append(p.idle, c)
	first := len(p.idle) == 1
	p.mu.Unlock()

	if first && p.config.KeepAlive > 0 {
		p.kick()
	}
}

// Forward sends msg on a pooled connection and returns the reply payload.
func (p *Pool) Forward(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)

	reply, err := c.Send(msg)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("MLLP exchange failed",
			slog.String("conn", c.id),
			slog.String("session", sessionID(hctx)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return reply, nil
}

// Len returns the number of idle connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Idle:     p.Len(),
		Dials:    p.dials.Load(),
		Reuses:   p.reuses.Load(),
		Evicted:  p.evicted.Load(),
		Recycled: p.recycled.Load(),
		Failures: p.failures.Load(),
	}
}

// Address returns the peer address.
func (p *Pool) Address() string {
	return p.config.Address
}

// Close closes every idle connection and stops the evictor. Connections
// still held by callers are closed on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.done)
	for _, c := range idle {
		c.close()
	}
	p.wg.Wait()

	return nil
}

func sessionID(hctx *handler.Context) string {
	if hctx == nil {
		return ""
	}
	return hctx.SessionID
}
