// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mllp

import (
	"bytes"
	"fmt"
	"io"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
)

const (
	// StartBlock opens a frame.
	StartBlock byte = 0x0B
	// EndBlock is the first byte of the two-byte frame terminator.
	EndBlock byte = 0x1C
	// CarriageReturn is the second byte of the frame terminator.
	CarriageReturn byte = 0x0D
)

// ErrIncompleteFrame is returned when the stream ends inside a frame.
var ErrIncompleteFrame = fmt.Errorf("%w: incomplete frame", gwerrors.ErrFraming)

var end = []byte{EndBlock, CarriageReturn}

// Encode returns payload wrapped in MLLP framing. The payload is copied, never modified.
func Encode(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, payload...)
	return append(frame, end...)
}

// Write frames payload and writes it to w in a single call.
func Write(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// Unwrap strips the MLLP markers from a framed message. Input without
// markers is returned unchanged, so Unwrap(Encode(p)) == p and Unwrap(p) == p.
func Unwrap(frame []byte) []byte {
	b := frame
	if len(b) > 0 && b[0] == StartBlock {
		b = b[1:]
	}
	switch {
	case bytes.HasSuffix(b, end):
		b = b[:len(b)-len(end)]
	case len(b) > 0 && b[len(b)-1] == EndBlock:
		b = b[:len(b)-1]
	}
	return b
}
