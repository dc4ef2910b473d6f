// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mllp implements the Minimal Lower Layer Protocol framing used to
// carry HL7 messages over TCP.
//
// # Wire Format
//
//	┌──────┬─────────────────┬──────┬──────┐
//	│ 0x0B │     payload     │ 0x1C │ 0x0D │
//	└──────┴─────────────────┴──────┴──────┘
//
// # Decoding
//
// Reader is a two-state scanner:
//
//	AWAITING_START  → discard bytes until 0x0B
//	READING_PAYLOAD → accumulate until 0x1C 0x0D, emit, back to AWAITING_START
//
// Reads are buffered, so a terminator split across two TCP segments and
// several frames in one segment are both decoded correctly. A stream that
// ends between frames ends with io.EOF. A stream that ends inside a frame
// yields an error wrapping ErrIncompleteFrame, which callers treat as a
// lost connection.
//
// # Encoding
//
// Encode and Write wrap a payload without altering it. No size limit is
// imposed here. Unwrap strips the markers for consumers that are not MLLP
// aware; Encode is its inverse.
//
// # Example
//
//	r := mllp.NewReader(conn)
//	for msg, err := range r.All() {
//		if err != nil {
//			return err
//		}
//		if err := mllp.Write(conn, ack(msg)); err != nil {
//			return err
//		}
//	}
package mllp
