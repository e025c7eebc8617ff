package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/mksystems/hwlink/internal/diag"
)

// Writer is the outbound half of a stream.
type Writer interface {
	Write(p []byte) (int, error)
	Flush() error
}

// AppendFrame appends the wire encoding of one frame to dst:
//
//	[magic...] [cmd] [payload...] [checksum]
//
// The checksum covers cmd and payload and is only written when the dialect
// carries one.
func AppendFrame(dst []byte, d Dialect, cmd byte, payload []byte) []byte {
	dst = append(dst, d.Magic...)
	dst = append(dst, cmd)
	dst = append(dst, payload...)
	if d.Checksum {
		dst = append(dst, Checksum([]byte{cmd}, payload))
	}
	return dst
}

// Encode returns the wire encoding of one frame.
func Encode(d Dialect, cmd byte, payload []byte) []byte {
	n := len(d.Magic) + 1 + len(payload)
	if d.Checksum {
		n++
	}
	return AppendFrame(make([]byte, 0, n), d, cmd, payload)
}

// Builder serialises outbound frames onto a writer. It is safe for
// concurrent use; each frame is written and flushed under one lock so
// frames from different goroutines never interleave.
type Builder struct {
	mu      sync.Mutex
	dialect Dialect
	w       Writer
	buf     []byte
	sink    diag.Sink
}

// NewBuilder returns a builder for dialect d. w may be nil until Attach.
func NewBuilder(d Dialect, w Writer, sink diag.Sink) *Builder {
	if sink == nil {
		sink = diag.Discard
	}
	return &Builder{dialect: d, w: w, sink: sink}
}

// Attach sets the writer frames are sent to. A nil writer detaches.
func (b *Builder) Attach(w Writer) {
	b.mu.Lock()
	b.w = w
	b.mu.Unlock()
}

// Send writes one frame and flushes it. It returns the number of bytes
// written, header and checksum included.
//
// Without a writer Send writes nothing and returns ErrNotConnected; callers
// that treat sends as best effort may ignore it.
func (b *Builder) Send(cmd byte, payload ...byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.w == nil {
		return 0, ErrNotConnected
	}

	b.buf = AppendFrame(b.buf[:0], b.dialect, cmd, payload)

	n, err := b.w.Write(b.buf)
	if err != nil {
		return n, fmt.Errorf("send %s: %w", b.dialect.CommandName(cmd), err)
	}
	if err := b.w.Flush(); err != nil {
		return n, fmt.Errorf("send %s: flush: %w", b.dialect.CommandName(cmd), err)
	}

	b.sink.Emit(diag.Event{
		Time:    time.Now(),
		Kind:    diag.KindSent,
		Command: cmd,
		Bytes:   len(payload),
	})
	return n, nil
}
