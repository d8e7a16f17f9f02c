// Package transport implements length-delimited frame send/receive
// over a byte stream. It is shared by all four server back-ends and
// by the client driver: the header declares the payload length, so a
// reader always knows exactly how many more bytes complete the frame.
package transport

import (
	"fmt"
	"io"

	"github.com/filewire/transferd/internal/wire"
)

// MaxPayloadLength bounds a single frame's payload so a corrupt or
// hostile length field cannot force an unbounded allocation.
const MaxPayloadLength = 64 * 1024 * 1024

// ReadFrame reads one complete frame from r: a fixed HeaderSize header
// followed by PayloadLength bytes. It blocks until the frame is fully
// read, r is closed, or r returns an error.
func ReadFrame(r io.Reader) (wire.Header, []byte, error) {
	headerBuf := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return wire.Header{}, nil, err
	}
	h, err := wire.DecodeHeader(headerBuf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if h.PayloadLength > MaxPayloadLength {
		return wire.Header{}, nil, fmt.Errorf("transport: payload length %d exceeds maximum %d", h.PayloadLength, MaxPayloadLength)
	}

	payload := make([]byte, h.PayloadLength)
	if h.PayloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return wire.Header{}, nil, err
		}
	}
	if !wire.Verify(h, payload) {
		return wire.Header{}, nil, wire.ErrChecksum
	}
	return h, payload, nil
}

// WriteFrame writes header and payload as a single frame to w.
func WriteFrame(w io.Writer, h wire.Header, payload []byte) error {
	_, err := w.Write(wire.Encode(h, payload))
	return err
}

// Assembler incrementally reassembles frames from bytes that arrive in
// arbitrary-sized pieces, for back-ends where a read only returns
// whatever happened to be ready rather than a full frame at a time.
type Assembler struct {
	buf []byte
}

// Feed appends newly read bytes to the assembler's buffer.
func (a *Assembler) Feed(b []byte) {
	a.buf = append(a.buf, b...)
}

// Next extracts one complete frame from the buffered bytes if enough
// have arrived, consuming them from the buffer. ok is false when more
// bytes are needed before a frame can be produced.
func (a *Assembler) Next() (h wire.Header, payload []byte, ok bool, err error) {
	if len(a.buf) < wire.HeaderSize {
		return wire.Header{}, nil, false, nil
	}
	h, err = wire.DecodeHeader(a.buf[:wire.HeaderSize])
	if err != nil {
		return wire.Header{}, nil, false, err
	}
	if h.PayloadLength > MaxPayloadLength {
		return wire.Header{}, nil, false, fmt.Errorf("transport: payload length %d exceeds maximum %d", h.PayloadLength, MaxPayloadLength)
	}

	total := wire.HeaderSize + int(h.PayloadLength)
	if len(a.buf) < total {
		return wire.Header{}, nil, false, nil
	}

	payload = make([]byte, h.PayloadLength)
	copy(payload, a.buf[wire.HeaderSize:total])
	a.buf = a.buf[total:]

	if !wire.Verify(h, payload) {
		return wire.Header{}, nil, false, wire.ErrChecksum
	}
	return h, payload, true, nil
}

// Pending reports how many bytes are buffered awaiting more data.
func (a *Assembler) Pending() int { return len(a.buf) }
