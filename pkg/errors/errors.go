// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mllproxy.
package errors

import (
	"errors"
	"fmt"
)

// Gateway error taxonomy. Every error crossing a package boundary wraps
// one of these so listeners can classify it with errors.Is.
var (
	// ErrFraming indicates a malformed or unterminated MLLP frame.
	ErrFraming = errors.New("mllp framing error")

	// ErrConnect indicates the pool failed to dial the MLLP upstream.
	ErrConnect = errors.New("upstream connect failed")

	// ErrTransport indicates a timeout or reset in the middle of an exchange.
	ErrTransport = errors.New("transport error")

	// ErrUpstreamHTTP indicates a non-2xx response from the forwarded HTTP(S) call.
	ErrUpstreamHTTP = errors.New("upstream HTTP error")

	// ErrUnauthorized indicates missing or incorrect credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout indicates an operation timeout.
	ErrTimeout = errors.New("timeout")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrBackendUnavailable indicates the backend is unavailable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates rate limit exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidConfig indicates invalid startup configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UpstreamError carries the status of a failed upstream HTTP call.
type UpstreamError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %s", e.Status)
}

// Unwrap makes UpstreamError match ErrUpstreamHTTP.
func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamHTTP
}

// GatewayError wraps an error with session context.
type GatewayError struct {
	Op         string // Operation that failed
	Protocol   string // Protocol (mllp, http, https)
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Protocol, e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// New creates a new GatewayError.
func New(op, protocol, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{
		Op:         op,
		Protocol:   protocol,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Classify returns a short label for err suitable for logs and metric labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, ErrUpstreamHTTP):
		return "upstream_http"
	case errors.Is(err, ErrFraming):
		return "framing"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
