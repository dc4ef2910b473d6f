// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http provides the HTTP(S) listener of the HTTP→MLLP bridges.
//
// # Request Flow
//
//	POST body ──► Guard ──► Handler.AuthConnect ──► Handler.AuthMessage
//	          ──► Forwarder (MLLP pool) ──► reply ──► 201/200 + reply body
//
// # Responses
//
//	missing credentials      401, WWW-Authenticate: Basic realm="..."
//	wrong credentials        401, diagnostic body
//	method other than POST   405
//	rejected by the handler  401/403, or 429 when rate limited
//	peer unreachable         502
//	exchange broken midway   connection aborted, no response
//	success                  SuccessStatus with Content-Length, Content-Type,
//	                         Keep-Alive (or Connection: close) and Date
//
// With Framed set, the reply is written with its MLLP markers; otherwise
// the bare payload is returned.
package http
