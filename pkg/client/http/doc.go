// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http provides the outbound HTTP(S) side of the MLLP listeners.
//
// Every MLLP message becomes one POST to the configured URL; the 2xx
// response body is the reply written back to the MLLP client. Requests
// carry proxy headers describing the MLLP hop:
//
//	Forwarded:         by=<listener addr>;for=<client addr>;proto=mllp
//	X-Forwarded-For:   <client addr>
//	X-Forwarded-Proto: mllp
//	User-Agent:        mllproxy/<version>
//
// plus Authorization (Basic from Username/Password, otherwise a static
// value), X-API-KEY and Content-Type when configured.
//
// Connections to the peer are kept alive by net/http between messages.
package http
