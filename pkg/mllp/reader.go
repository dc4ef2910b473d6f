// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mllp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
)

const defaultBufferSize = 4096

// Reader decodes MLLP frames from a byte stream. Bytes read past the end of
// a frame stay buffered for the next call, so a terminator split across two
// reads and several frames in a single read are both handled.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader decoding frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, defaultBufferSize)}
}

// ReadMessage returns the payload of the next frame.
//
// Bytes before a StartBlock are discarded. It returns io.EOF when the stream
// ends between frames, and an error wrapping ErrIncompleteFrame when it ends
// inside one.
func (r *Reader) ReadMessage() ([]byte, error) {
	if err := r.awaitStart(); err != nil {
		return nil, err
	}

	var msg []byte
	for {
		chunk, err := r.br.ReadSlice(EndBlock)
		msg = append(msg, chunk...)
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err != nil:
			return nil, incomplete(err)
		}

		next, err := r.br.ReadByte()
		if err != nil {
			return nil, incomplete(err)
		}
		if next == CarriageReturn {
			return msg[:len(msg)-1], nil
		}
		// A lone EndBlock is payload. The byte after it may itself be an
		// EndBlock, so it goes back to the buffer.
		if err := r.br.UnreadByte(); err != nil {
			return nil, err
		}
	}
}

// All returns the remaining messages as a lazy sequence. The sequence stops
// after the first error; a clean end of stream yields no error.
func (r *Reader) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			msg, err := r.ReadMessage()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}

// Buffered returns the number of bytes read from the stream but not yet decoded.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

func (r *Reader) awaitStart() error {
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return err
		}
		if b == StartBlock {
			return nil
		}
	}
}

func incomplete(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", ErrIncompleteFrame, err)
}
