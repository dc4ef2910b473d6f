// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy provides the four directional bridges that wire a listener,
// a forwarder and a handler together.
//
// # Architecture
//
//	Application
//	     ↓
//	┌──────────────┐
//	│    Bridge    │  (Coordinator)
//	│ - http2mllp  │
//	│ - https2mllp │
//	│ - mllp2http  │
//	│ - mllp2https │
//	└──────────────┘
//	     ↓
//	┌──────────────┐        ┌──────────────┐
//	│   Listener   │ ─────→ │  Forwarder   │
//	│ - HTTP(S)    │        │ - MLLP pool  │
//	│ - MLLP       │        │ - HTTP client│
//	└──────────────┘        └──────────────┘
//	     ↓
//	┌──────────────┐
//	│   Handler    │  (Business Logic)
//	└──────────────┘
//
// # Presets
//
//	http2mllp   HTTP listener, MLLP pool, 201 Created, bare reply
//	https2mllp  HTTPS listener, MLLP pool, 200 OK, bare or framed reply
//	mllp2http   MLLP listener, HTTP(S) client
//	mllp2https  MLLP listener, HTTPS client (certificate verification configurable)
//
// # Multiple Bridges
//
//	g, ctx := errgroup.WithContext(context.Background())
//
//	g.Go(func() error {
//		return inbound.Listen(ctx)
//	})
//
//	g.Go(func() error {
//		return outbound.Listen(ctx)
//	})
//
//	if err := g.Wait(); err != nil {
//		log.Fatal(err)
//	}
//
// The same handler can be shared by every bridge; handler.Context.Protocol
// tells them apart.
package proxy
