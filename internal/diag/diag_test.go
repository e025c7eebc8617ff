package diag

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mksystems/hwlink/internal/logging"
)

type collect struct{ events []Event }

func (c *collect) Emit(e Event) { c.events = append(c.events, e) }

func TestFanoutSkipsNilSinks(t *testing.T) {
	a, b := &collect{}, &collect{}
	sink := Fanout(a, nil, b)

	sink.Emit(Event{Kind: KindResync})
	sink.Emit(Event{Kind: KindFrame})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Errorf("got %d and %d events, want 2 each", len(a.events), len(b.events))
	}
	if a.events[0].Kind != KindResync || b.events[1].Kind != KindFrame {
		t.Errorf("events out of order: %+v %+v", a.events, b.events)
	}
}

func TestTagged(t *testing.T) {
	c := &collect{}
	sink := Tagged("ut-1", "sess", c)

	sink.Emit(Event{Kind: KindFrame})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.Emit(Event{Kind: KindFrame, Board: "other", Session: "s2", Time: fixed})

	first, second := c.events[0], c.events[1]
	if first.Board != "ut-1" || first.Session != "sess" || first.Time.IsZero() {
		t.Errorf("untagged event = %+v", first)
	}
	if second.Board != "other" || second.Session != "s2" || !second.Time.Equal(fixed) {
		t.Errorf("pre-tagged event was overwritten: %+v", second)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Emit(Event{Kind: KindFrame, Bytes: i})
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", q.Dropped())
	}

	got := q.Drain(2)
	if len(got) != 2 || got[0].Bytes != 0 || got[1].Bytes != 1 {
		t.Fatalf("Drain(2) = %+v", got)
	}
	rest := q.Drain(0)
	if len(rest) != 1 || rest[0].Bytes != 2 {
		t.Errorf("Drain(0) = %+v", rest)
	}
	if more := q.Drain(0); len(more) != 0 {
		t.Errorf("Drain on empty queue = %+v", more)
	}
}

func TestEventString(t *testing.T) {
	tests := []struct {
		name string
		e    Event
		want string
	}{
		{"frame", Event{Kind: KindFrame, Board: "ut", Command: 0x09, Bytes: 2}, "cmd=0x09 bytes=2"},
		{"resync", Event{Kind: KindResync, Board: "ut", ResyncCount: 4, Command: 0x11}, "count=4 last_cmd=0x11"},
		{"unknown", Event{Kind: KindUnknownCommand, Board: "ctl", Command: 0x7f}, "cmd=0x7f"},
		{"connection", Event{Kind: KindConnection, Board: "plc", Message: Connected}, "plc connected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.String(); !strings.Contains(got, tt.want) {
				t.Errorf("String() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestLogSinkThrottlesProblems(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	defer logging.SetLogger(zap.NewNop())

	sink := NewLogSink(0.001, 2)
	for i := 0; i < 5; i++ {
		sink.Emit(Event{Kind: KindResync, Board: "ut", ResyncCount: uint64(i + 1)})
	}
	for i := 0; i < 3; i++ {
		sink.Emit(Event{Kind: KindFrame, Board: "ut", Command: 0x09, Bytes: 2})
	}
	sink.Emit(Event{Kind: KindConnection, Board: "ut", Message: Connected})

	if n := logs.FilterMessage("Protocol diagnostic").Len(); n != 2 {
		t.Errorf("%d problem lines logged, want 2 (burst)", n)
	}
	if n := logs.FilterMessage("Frame").FilterLevelExact(zapcore.DebugLevel).Len(); n != 3 {
		t.Errorf("%d frame lines logged, want 3", n)
	}
	if n := logs.FilterMessage(Connected).FilterLevelExact(zapcore.InfoLevel).Len(); n != 1 {
		t.Errorf("%d connection lines logged, want 1", n)
	}
}
