package protocol

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mksystems/hwlink/internal/diag"
)

// PLC messages are fixed-length ASCII records:
//
//	[lead] [25 text bytes, space padded] ['|'] [sequence digit]
//
// Inbound messages lead with the '^' magic and the first text byte is the
// command, so the decoder sees a 26 byte payload after the command.
const (
	PLCMessageLength = 28
	PLCTextLength    = 25
	PLCSeparator     = '|'

	plcPayloadLength = PLCMessageLength - 2
)

// PLC lead characters used by the host.
const (
	PLCLeadGreeting = '@'
	PLCLeadCommand  = '#'
	PLCLeadQuery    = '*'
)

// PLCMessage is one decoded inbound PLC message.
type PLCMessage struct {
	Command  byte
	Text     string
	Sequence int
}

// PLCSequence generates the 0-9 wrapping message sequence numbers.
type PLCSequence struct {
	mu sync.Mutex
	n  int
}

// Next returns the next sequence digit as an ASCII byte.
func (s *PLCSequence) Next() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := byte('0' + s.n)
	s.n = (s.n + 1) % 10
	return d
}

// EncodePLC builds one PLC message. Text longer than the field is
// truncated; shorter text is padded with spaces.
func EncodePLC(lead byte, text string, seq byte) []byte {
	msg := make([]byte, 0, PLCMessageLength)
	msg = append(msg, lead)
	if len(text) > PLCTextLength {
		text = text[:PLCTextLength]
	}
	msg = append(msg, text...)
	for len(msg) < 1+PLCTextLength {
		msg = append(msg, ' ')
	}
	return append(msg, PLCSeparator, seq)
}

// ParsePLCPayload decodes the bytes that follow the command byte of an
// inbound PLC message.
func ParsePLCPayload(cmd byte, p []byte) (PLCMessage, error) {
	if len(p) != plcPayloadLength {
		return PLCMessage{}, fmt.Errorf("%w: PLC payload is %d bytes, want %d", ErrFraming, len(p), plcPayloadLength)
	}
	sep, seq := p[len(p)-2], p[len(p)-1]
	if sep != PLCSeparator {
		return PLCMessage{}, fmt.Errorf("%w: PLC separator 0x%02x", ErrFraming, sep)
	}
	if seq < '0' || seq > '9' {
		return PLCMessage{}, fmt.Errorf("%w: PLC sequence 0x%02x", ErrFraming, seq)
	}
	return PLCMessage{
		Command:  cmd,
		Text:     strings.TrimRight(string(p[:len(p)-2]), " "),
		Sequence: int(seq - '0'),
	}, nil
}

// PLCHandler returns a handler that validates the fixed PLC layout before
// dispatching. A malformed trailer is a framing error.
func PLCHandler(fn func(PLCMessage) error) Handler {
	return Handler{
		Name: "PLC",
		Read: func(r *PayloadReader) error {
			p, err := r.Next(plcPayloadLength)
			if err != nil {
				return err
			}
			_, err = ParsePLCPayload(0, p)
			return err
		},
		OnFrame: func(f Frame) error {
			msg, err := ParsePLCPayload(f.Command, f.Payload)
			if err != nil {
				return err
			}
			if fn == nil {
				return nil
			}
			return fn(msg)
		},
	}
}

// PLCWriter sends PLC messages with a running sequence number.
type PLCWriter struct {
	mu   sync.Mutex
	w    Writer
	seq  PLCSequence
	sink diag.Sink
}

// NewPLCWriter returns a PLCWriter on w. Sent messages are reported to sink
// as KindSent events carrying the lead byte.
func NewPLCWriter(w Writer, sink diag.Sink) *PLCWriter {
	if sink == nil {
		sink = diag.Discard
	}
	return &PLCWriter{w: w, sink: sink}
}

// Send writes and flushes one message.
func (p *PLCWriter) Send(lead byte, text string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.w == nil {
		return 0, ErrNotConnected
	}
	n, err := p.w.Write(EncodePLC(lead, text, p.seq.Next()))
	if err != nil {
		return n, fmt.Errorf("send PLC message: %w", err)
	}
	if err := p.w.Flush(); err != nil {
		return n, fmt.Errorf("send PLC message: flush: %w", err)
	}

	p.sink.Emit(diag.Event{
		Time:    time.Now(),
		Kind:    diag.KindSent,
		Command: lead,
		Bytes:   n,
	})
	return n, nil
}
