// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"fmt"
	"net"
	"time"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/mllp"
	"github.com/google/uuid"
)

// Conn is a live MLLP connection to the pool's peer.
//
// Between Acquire and Release a Conn belongs to a single caller and is not
// safe for concurrent use. While idle it belongs to the pool.
type Conn struct {
	conn      net.Conn
	reader    *mllp.Reader
	id        string
	timeout   time.Duration
	createdAt time.Time
	idleSince time.Time
	messages  int
	closed    bool
}

func newConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		conn:      nc,
		reader:    mllp.NewReader(nc),
		id:        uuid.NewString(),
		timeout:   timeout,
		createdAt: time.Now(),
	}
}

// Send writes msg as one frame and returns the payload of the reply frame.
//
// Any error closes the connection; the returned error wraps
// errors.ErrTransport, and errors.ErrFraming when the reply was cut short.
func (c *Conn) Send(msg []byte) ([]byte, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: %w", gwerrors.ErrTransport, gwerrors.ErrConnectionClosed)
	}

	c.messages++
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, c.fail(err)
		}
	}

	if err := mllp.Write(c.conn, msg); err != nil {
		return nil, c.fail(err)
	}

	reply, err := c.reader.ReadMessage()
	if err != nil {
		return nil, c.fail(err)
	}

	return reply, nil
}

// ID returns the connection identifier used in logs.
func (c *Conn) ID() string {
	return c.id
}

// Messages returns the number of messages sent on this connection.
func (c *Conn) Messages() int {
	return c.messages
}

// Closed reports whether the connection has been closed.
func (c *Conn) Closed() bool {
	return c.closed
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) fail(err error) error {
	c.close()
	return fmt.Errorf("%w: %w", gwerrors.ErrTransport, err)
}

func (c *Conn) close() {
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
