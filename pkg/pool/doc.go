// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pool provides a pool of MLLP client connections to one peer.
//
// # Lifecycle
//
//	Acquire ──► idle stack non-empty? ──yes──► pop top (LIFO)
//	                 │ no
//	                 ▼
//	            dial (breaker) ──► new Conn
//
//	Release ──► closed?                ──► drop
//	            messages >= MaxMessages ──► close (recycle)
//	            KeepAlive == 0          ──► close
//	            otherwise               ──► stamp idleSince, push
//
// # Keep-Alive
//
// KeepAlive > 0 starts one evictor goroutine. Connections are stamped on
// release, so the idle stack is sorted by age and the evictor only ever
// looks at its bottom. A connection re-acquired before it expires is no
// longer on the stack and cannot be evicted. A negative KeepAlive pools
// connections until Close.
//
// # Errors
//
// Dial failures wrap errors.ErrConnect. Failures during an exchange close
// the connection and wrap errors.ErrTransport. Nothing is retried.
//
// # Example
//
//	p, err := pool.New(pool.Config{
//		Address:     "ehr.local:2575",
//		KeepAlive:   10 * time.Second,
//		MaxMessages: -1,
//		Timeout:     30 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	ack, err := p.Forward(ctx, hctx, msg)
package pool
