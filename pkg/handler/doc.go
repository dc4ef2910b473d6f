// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the hook interface that links the gateway
// listeners to application logic.
//
// # Data Flow
//
//	Client → Listener (decodes message) → Handler (authorizes) → Forwarder → Peer
//	Peer → Forwarder → Handler (notifies) → Listener → Client
//
// # Handler Methods
//
// Authorization methods (Auth*) are called before forwarding:
//   - AuthConnect: Verifies a new MLLP connection or HTTP request
//   - AuthMessage: Authorizes (and may rewrite) a single message
//
// Notification methods (On*) are called after successful operations:
//   - OnConnect: Notifies an accepted connection
//   - OnMessage: Notifies a completed request/reply exchange
//   - OnDisconnect: Notifies disconnection
//
// The MLLP listener calls AuthConnect once per TCP connection and
// AuthMessage once per frame. The HTTP listener treats every request as a
// session of its own, so both are called once per request.
//
// # Example
//
//	type AuditHandler struct {
//		handler.NoopHandler
//		log *slog.Logger
//	}
//
//	func (h *AuditHandler) OnMessage(ctx context.Context, hctx *handler.Context, req, reply []byte) error {
//		h.log.Info("Exchange", slog.String("session", hctx.SessionID), slog.Int("bytes", len(req)))
//		return nil
//	}
package handler
