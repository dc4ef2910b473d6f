// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the MLLP listener of the MLLP→HTTP bridges.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐          ┌───────────┐
//	│ Client  │ ←─MLLP→ │  Server │ ──call─→ │ Forwarder │ ──→ HTTP(S) peer
//	└─────────┘         └─────────┘          └───────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Handler │
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Server accepts connection on its own goroutine
//  3. handler.AuthConnect() may reject the client
//  4. For each decoded frame, in arrival order:
//     - handler.AuthMessage()
//     - forwarder.Forward()
//     - the reply is framed, written and flushed
//  5. Server calls handler.OnDisconnect()
//
// There is no pipelining: the next message is read only after the reply to
// the previous one was written.
//
// # Graceful Shutdown
//
// When context is canceled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing connections (with timeout)
//  3. After ShutdownTimeout, forcefully closes remaining connections
//  4. Returns ErrShutdownTimeout if timeout exceeded
//
// # Error Handling
//
//   - Client EOF or reset: connection ends quietly
//   - Upstream non-2xx or unreachable peer: logged, connection closed
//   - Truncated frame or timeout: logged, connection closed
//   - Shutdown timeout: Returns ErrShutdownTimeout
//
// No error on one connection stops the listener.
//
// # Example
//
//	client, err := http.New(http.Config{URL: "http://ehr.local/hl7"})
//	if err != nil {
//		return err
//	}
//
//	server := tcp.New(tcp.Config{Address: ":2575"}, client, &handler.NoopHandler{})
//	if err := server.Listen(ctx); err != nil {
//		return err
//	}
package tcp
