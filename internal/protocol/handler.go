package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mksystems/hwlink/internal/transport"
)

// MaxPayloadSize bounds the bytes a single handler may read for one frame.
const MaxPayloadSize = 8192

var (
	// ErrFraming marks a payload that cannot belong to a valid frame. The
	// decoder answers it with a resync.
	ErrFraming = errors.New("protocol: framing error")

	// ErrNotConnected is returned by Builder.Send when no writer is attached.
	ErrNotConnected = errors.New("protocol: not connected")
)

// Frame is one decoded inbound frame.
type Frame struct {
	Command byte
	Payload []byte

	// Checksum is the received trailer byte. It is zero when the decoder
	// runs with ChecksumNone.
	Checksum byte
}

// Handler describes how to read and consume the payload of one command.
//
// A handler sets Size for fixed payloads, or Read when the payload announces
// its own length. With neither set the payload is empty.
type Handler struct {
	Name string
	Size int
	Read func(r *PayloadReader) error

	// OnFrame receives the frame after the payload and trailer have been
	// read. It runs on the decoder's goroutine. A nil OnFrame discards.
	OnFrame func(Frame) error
}

func (h Handler) readPayload(r *PayloadReader) error {
	if h.Read != nil {
		return h.Read(r)
	}
	if h.Size > 0 {
		_, err := r.Next(h.Size)
		return err
	}
	return nil
}

// PayloadReader gives handlers blocking, bounded access to the payload bytes
// following the command byte. Everything read through it becomes the
// frame's payload.
type PayloadReader struct {
	stream  transport.Stream
	timeout time.Duration
	buf     []byte
}

func newPayloadReader(s transport.Stream, timeout time.Duration) *PayloadReader {
	return &PayloadReader{stream: s, timeout: timeout}
}

// Next reads exactly n more payload bytes and returns them.
func (r *PayloadReader) Next(n int) ([]byte, error) {
	if n < 0 || len(r.buf)+n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrFraming, len(r.buf)+n, MaxPayloadSize)
	}
	if n == 0 {
		return nil, nil
	}
	start := len(r.buf)
	r.buf = append(r.buf, make([]byte, n)...)
	if err := r.stream.ReadExact(r.buf[start:], r.timeout); err != nil {
		r.buf = r.buf[:start]
		return nil, err
	}
	return r.buf[start:], nil
}

// Len returns the number of payload bytes read so far.
func (r *PayloadReader) Len() int { return len(r.buf) }

// Bytes returns the payload read so far.
func (r *PayloadReader) Bytes() []byte { return r.buf }

// SizePrefixed returns a Read function for payloads that start with a
// prefix of prefixLen bytes carrying a big-endian uint16 size at offset.
// The size counts the bytes following the prefix.
func SizePrefixed(prefixLen, offset int) func(*PayloadReader) error {
	return func(r *PayloadReader) error {
		if offset < 0 || offset+2 > prefixLen {
			return fmt.Errorf("%w: size field at %d outside %d byte prefix", ErrFraming, offset, prefixLen)
		}
		prefix, err := r.Next(prefixLen)
		if err != nil {
			return err
		}
		size := int(binary.BigEndian.Uint16(prefix[offset:]))
		_, err = r.Next(size)
		return err
	}
}
