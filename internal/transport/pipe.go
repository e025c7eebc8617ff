package transport

import (
	"sync"
	"time"
)

// PipeEnd is one side of an in-process link created by NewPipe.
//
// Bytes written on one end become available on the other only once Flush
// is called, matching the flush-per-frame behaviour of a socket sender.
type PipeEnd struct {
	in   *queue
	peer *PipeEnd

	mu      sync.Mutex
	pending []byte
	closed  bool
}

// NewPipe returns two connected ends. Typically one end is handed to a
// host-side session and the other to a simulated board.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{in: newQueue()}
	b := &PipeEnd{in: newQueue()}
	a.peer, b.peer = b, a
	return a, b
}

// Inject makes p immediately readable on this end, as if the peer had
// written and flushed it. Used to feed hand-made byte streams in tests.
func (e *PipeEnd) Inject(p []byte) error {
	return e.in.push(p)
}

func (e *PipeEnd) Available() int { return e.in.available() }

func (e *PipeEnd) WaitAvailable(n int, timeout time.Duration) error {
	return e.in.wait(n, timeout)
}

func (e *PipeEnd) ReadExact(p []byte, timeout time.Duration) error {
	return e.in.read(p, timeout)
}

func (e *PipeEnd) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrClosed
	}
	e.pending = append(e.pending, p...)
	return len(p), nil
}

func (e *PipeEnd) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if len(e.pending) == 0 {
		return nil
	}
	err := e.peer.in.push(e.pending)
	e.pending = e.pending[:0]
	return err
}

// Close shuts both directions. The peer can still read what was already
// flushed to it, then sees ErrClosed.
func (e *PipeEnd) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.pending = nil
	e.mu.Unlock()

	e.in.fail(ErrClosed)
	e.peer.in.fail(ErrClosed)
	return nil
}

var _ Stream = (*PipeEnd)(nil)
