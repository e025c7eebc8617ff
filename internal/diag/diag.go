// Package diag carries protocol diagnostics (resyncs, transport errors,
// unknown commands, decoded frames) away from the decoders.
//
// Every Sink must return immediately: decoders call Emit inline from their
// owning worker, and a slow consumer must never stall a board link. The
// Queue sink holds a bounded backlog for a UI that drains it on its own
// tick; events that do not fit are counted and dropped.
package diag

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Kind classifies a diagnostic event.
type Kind string

const (
	KindFrame          Kind = "frame"
	KindResync         Kind = "resync"
	KindUnknownCommand Kind = "unknown_command"
	KindChecksum       Kind = "checksum"
	KindIOError        Kind = "io_error"
	KindHandlerError   Kind = "handler_error"
	KindConnection     Kind = "connection"
	KindSent           Kind = "sent"
)

// Messages carried by KindConnection events.
const (
	Connected    = "connected"
	Disconnected = "disconnected"
)

// Event is a single diagnostic record.
type Event struct {
	Time        time.Time `json:"time"`
	Board       string    `json:"board,omitempty"`
	Session     string    `json:"session,omitempty"`
	Kind        Kind      `json:"kind"`
	Command     byte      `json:"command"`
	Bytes       int       `json:"bytes,omitempty"`
	ResyncCount uint64    `json:"resync_count,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// String returns a one-line rendering for logs and the monitor.
func (e Event) String() string {
	s := fmt.Sprintf("%s %-15s %s", e.Time.Format("15:04:05.000"), e.Kind, e.Board)
	switch e.Kind {
	case KindFrame, KindSent:
		s += fmt.Sprintf(" cmd=0x%02x bytes=%d", e.Command, e.Bytes)
	case KindResync:
		s += fmt.Sprintf(" count=%d last_cmd=0x%02x", e.ResyncCount, e.Command)
	case KindUnknownCommand, KindChecksum:
		s += fmt.Sprintf(" cmd=0x%02x", e.Command)
	}
	if e.Message != "" {
		s += " " + e.Message
	}
	return s
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type fanout []Sink

func (f fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// Fanout delivers each event to all non-nil sinks in order.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Tagged stamps the board and session names and the current time onto
// every event before handing it on.
func Tagged(board, session string, next Sink) Sink {
	return SinkFunc(func(e Event) {
		if e.Board == "" {
			e.Board = board
		}
		if e.Session == "" {
			e.Session = session
		}
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		next.Emit(e)
	})
}

// Queue is a bounded, non-blocking event buffer.
type Queue struct {
	ch      chan Event
	dropped atomic.Uint64
}

// DefaultQueueSize is the backlog kept for a UI between two drains.
const DefaultQueueSize = 1024

// NewQueue creates a queue holding at most size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Event, size)}
}

// Emit enqueues e, or drops it when the queue is full.
func (q *Queue) Emit(e Event) {
	select {
	case q.ch <- e:
	default:
		q.dropped.Add(1)
	}
}

// Drain returns up to max queued events without waiting. max <= 0 drains
// everything currently queued.
func (q *Queue) Drain(max int) []Event {
	var out []Event
	for max <= 0 || len(out) < max {
		select {
		case e := <-q.ch:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

// C exposes the queue for consumers that prefer to block on it.
func (q *Queue) C() <-chan Event { return q.ch }

// Dropped returns how many events were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
