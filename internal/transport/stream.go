package transport

import (
	"errors"
	"time"
)

var (
	// ErrClosed is returned by reads and writes on a stream that has been closed.
	ErrClosed = errors.New("transport: stream closed")

	// ErrTimeout is returned when the requested bytes did not arrive in time.
	ErrTimeout = errors.New("transport: timeout waiting for bytes")
)

// Stream is a byte-oriented, full-duplex link to a board.
//
// Reads are served from an internal queue so Available never blocks. A
// timeout <= 0 passed to WaitAvailable or ReadExact waits until the bytes
// arrive or the stream is closed.
type Stream interface {
	// Available returns the number of unread bytes.
	Available() int

	// WaitAvailable blocks until at least n bytes are unread.
	WaitAvailable(n int, timeout time.Duration) error

	// ReadExact fills p completely or returns an error without consuming
	// anything.
	ReadExact(p []byte, timeout time.Duration) error

	// Write queues p for sending. Nothing reaches the peer before Flush.
	Write(p []byte) (int, error)

	// Flush pushes queued bytes to the peer.
	Flush() error

	// Close tears the link down and wakes blocked readers.
	Close() error
}

// IsTerminal reports whether err means the stream can no longer be used.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrClosed)
}
