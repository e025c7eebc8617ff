package transport

import (
	"sync"
	"time"
)

// queue buffers received bytes until a reader consumes them.
// Waiters block on signal, which is closed and replaced on every change.
type queue struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{})}
}

// notify must be called with mu held.
func (q *queue) notify() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func (q *queue) push(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}
	if len(p) == 0 {
		return nil
	}
	q.buf = append(q.buf, p...)
	q.notify()
	return nil
}

// fail records the terminal error. Buffered bytes stay readable.
func (q *queue) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return
	}
	q.err = err
	q.notify()
}

func (q *queue) available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *queue) wait(n int, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.buf) >= n {
			q.mu.Unlock()
			return nil
		}
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return err
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-signal:
		case <-deadline:
			return ErrTimeout
		}
	}
}

func (q *queue) read(p []byte, timeout time.Duration) error {
	if err := q.wait(len(p), timeout); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// A single consumer owns the read side, so the bytes are still there.
	n := copy(p, q.buf)
	q.buf = append(q.buf[:0], q.buf[n:]...)
	return nil
}
