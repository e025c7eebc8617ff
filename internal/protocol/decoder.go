package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/transport"
)

// ChecksumMode selects how the decoder treats the trailing checksum byte.
type ChecksumMode int

const (
	// ChecksumNone expects no trailer on inbound frames.
	ChecksumNone ChecksumMode = iota
	// ChecksumIgnore reads the trailer but does not check it.
	ChecksumIgnore
	// ChecksumVerify checks the trailer. A mismatch is a framing error: the
	// frame is not dispatched and a resync runs.
	ChecksumVerify
)

func (m ChecksumMode) String() string {
	switch m {
	case ChecksumNone:
		return "none"
	case ChecksumIgnore:
		return "ignore"
	case ChecksumVerify:
		return "verify"
	default:
		return fmt.Sprintf("ChecksumMode(%d)", int(m))
	}
}

// ParseChecksumMode parses "none", "ignore" or "verify".
func ParseChecksumMode(s string) (ChecksumMode, error) {
	switch strings.ToLower(s) {
	case "none":
		return ChecksumNone, nil
	case "ignore", "":
		return ChecksumIgnore, nil
	case "verify":
		return ChecksumVerify, nil
	default:
		return 0, fmt.Errorf("unknown checksum mode %q (expected none, ignore or verify)", s)
	}
}

// UnknownPolicy selects what happens after an unregistered command byte.
type UnknownPolicy int

const (
	// UnknownDrop reads nothing past the command byte. Any payload the
	// unknown command carries is left in the stream and will be resynced
	// over on the next poll.
	UnknownDrop UnknownPolicy = iota
	// UnknownResync treats the command as a framing error.
	UnknownResync
)

func (p UnknownPolicy) String() string {
	switch p {
	case UnknownDrop:
		return "drop"
	case UnknownResync:
		return "resync"
	default:
		return fmt.Sprintf("UnknownPolicy(%d)", int(p))
	}
}

// ParseUnknownPolicy parses "drop" or "resync".
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch strings.ToLower(s) {
	case "drop", "":
		return UnknownDrop, nil
	case "resync":
		return UnknownResync, nil
	default:
		return 0, fmt.Errorf("unknown command policy %q (expected drop or resync)", s)
	}
}

// DefaultReadTimeout bounds the wait for payload bytes once a header has
// been accepted.
const DefaultReadTimeout = 500 * time.Millisecond

// Options configures a Decoder.
type Options struct {
	Checksum    ChecksumMode
	Unknown     UnknownPolicy
	ReadTimeout time.Duration
	Sink        diag.Sink
}

// Stats is a snapshot of decoder counters.
type Stats struct {
	Frames            uint64 `json:"frames"`
	PayloadBytes      uint64 `json:"payload_bytes"`
	Resyncs           uint64 `json:"resyncs"`
	UnknownCommands   uint64 `json:"unknown_commands"`
	ChecksumErrors    uint64 `json:"checksum_errors"`
	IOErrors          uint64 `json:"io_errors"`
	HandlerErrors     uint64 `json:"handler_errors"`
	LastResyncCommand byte   `json:"last_resync_command"`
}

// Decoder is the inbound frame state machine for one stream.
//
// Handlers must be registered before the decoder is polled. Polling must be
// confined to one goroutine; Stats and Err may be called from any goroutine.
type Decoder struct {
	dialect  Dialect
	stream   transport.Stream
	opts     Options
	handlers map[byte]Handler
	resync   *Resync

	one [1]byte

	mu    sync.Mutex
	stats Stats
	err   error
}

// NewDecoder returns a decoder reading dialect d from s.
func NewDecoder(d Dialect, s transport.Stream, opts Options) *Decoder {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Sink == nil {
		opts.Sink = diag.Discard
	}
	return &Decoder{
		dialect:  d,
		stream:   s,
		opts:     opts,
		handlers: make(map[byte]Handler),
		resync:   NewResync(d.Magic[0]),
	}
}

// Handle registers h for cmd, replacing any previous handler.
func (d *Decoder) Handle(cmd byte, h Handler) {
	if h.Name == "" {
		h.Name = d.dialect.CommandName(cmd)
	}
	d.handlers[cmd] = h
}

// HandleFunc registers a fixed-size handler.
func (d *Decoder) HandleFunc(cmd byte, size int, fn func(Frame) error) {
	d.Handle(cmd, Handler{Size: size, OnFrame: fn})
}

// Skip registers cmd as known with a payload of n bytes that is discarded.
func (d *Decoder) Skip(cmd byte, n int) {
	d.Handle(cmd, Handler{Size: n})
}

// Dialect returns the decoder's dialect.
func (d *Decoder) Dialect() Dialect { return d.dialect }

// Resync exposes the decoder's resync state.
func (d *Decoder) Resync() *Resync { return d.resync }

// Err returns the terminal transport error, if the stream has closed.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// PollOnce makes at most one frame attempt without waiting for data.
//
// It returns -1 when fewer than the magic plus command byte are buffered,
// 0 when nothing was decoded (resync, unknown command, I/O error, empty
// payload), otherwise the number of payload bytes consumed.
//
// The buffered-bytes check does not account for a start byte already
// consumed by a resync. A complete frame of exactly the remaining header,
// the command and no payload or checksum therefore waits in the buffer
// until one more byte arrives.
func (d *Decoder) PollOnce() int {
	if d.stream.Available() < d.dialect.MinAvailable() {
		return -1
	}
	return d.decode()
}

// PollBlocking is PollOnce that first waits up to timeout for the minimum
// bytes to arrive. A timeout <= 0 waits until data arrives or the stream
// closes. The first wait that ends on a closed stream is counted and
// reported as an I/O error.
func (d *Decoder) PollBlocking(timeout time.Duration) int {
	if err := d.stream.WaitAvailable(d.dialect.MinAvailable(), timeout); err != nil {
		if transport.IsTerminal(err) && d.Err() == nil {
			d.ioError(0, err)
		}
		return -1
	}
	return d.decode()
}

// Drain polls until no complete header is buffered and returns the total
// payload bytes consumed.
func (d *Decoder) Drain() int {
	total := 0
	for {
		n := d.PollOnce()
		if n < 0 {
			return total
		}
		total += n
		if d.Err() != nil {
			return total
		}
	}
}

func (d *Decoder) decode() int {
	magic := d.dialect.Magic

	i := 0
	if d.resync.take() {
		i = 1
	}
	for ; i < len(magic); i++ {
		b, err := d.readByte()
		if err != nil {
			return d.ioError(0, err)
		}
		if b != magic[i] {
			d.resync.Run(d.stream, b)
			d.noteResync(fmt.Sprintf("header byte %d: got 0x%02x, want 0x%02x", i, b, magic[i]))
			return 0
		}
	}

	cmd, err := d.readByte()
	if err != nil {
		return d.ioError(0, err)
	}

	h, ok := d.handlers[cmd]
	if !ok {
		return d.unknown(cmd)
	}

	r := newPayloadReader(d.stream, d.opts.ReadTimeout)
	if err := h.readPayload(r); err != nil {
		if errors.Is(err, ErrFraming) {
			d.resync.Scan(d.stream)
			d.noteResync(fmt.Sprintf("%s payload: %v", h.Name, err))
			return 0
		}
		return d.ioError(cmd, err)
	}

	frame := Frame{Command: cmd, Payload: r.Bytes()}
	if d.opts.Checksum != ChecksumNone {
		sum, err := d.readByte()
		if err != nil {
			return d.ioError(cmd, err)
		}
		frame.Checksum = sum
		if d.opts.Checksum == ChecksumVerify && !VerifyChecksum(sum, []byte{cmd}, frame.Payload) {
			d.checksumError(frame)
			return 0
		}
	}

	d.resync.Good(cmd)
	d.mu.Lock()
	d.stats.Frames++
	d.stats.PayloadBytes += uint64(len(frame.Payload))
	d.mu.Unlock()

	d.emit(diag.Event{Kind: diag.KindFrame, Command: cmd, Bytes: len(frame.Payload)})

	if h.OnFrame != nil {
		if err := h.OnFrame(frame); err != nil {
			d.mu.Lock()
			d.stats.HandlerErrors++
			d.mu.Unlock()
			d.emit(diag.Event{
				Kind:    diag.KindHandlerError,
				Command: cmd,
				Message: fmt.Sprintf("%s handler: %v", h.Name, err),
			})
		}
	}
	return len(frame.Payload)
}

func (d *Decoder) readByte() (byte, error) {
	if err := d.stream.ReadExact(d.one[:], d.opts.ReadTimeout); err != nil {
		return 0, err
	}
	return d.one[0], nil
}

func (d *Decoder) unknown(cmd byte) int {
	d.mu.Lock()
	d.stats.UnknownCommands++
	d.mu.Unlock()

	d.emit(diag.Event{
		Kind:    diag.KindUnknownCommand,
		Command: cmd,
		Message: fmt.Sprintf("no handler for %s (policy %s)", d.dialect.CommandName(cmd), d.opts.Unknown),
	})

	if d.opts.Unknown == UnknownResync {
		d.resync.Scan(d.stream)
		d.noteResync(fmt.Sprintf("unknown command 0x%02x", cmd))
	}
	return 0
}

func (d *Decoder) checksumError(f Frame) {
	d.mu.Lock()
	d.stats.ChecksumErrors++
	d.mu.Unlock()

	want := Checksum([]byte{f.Command}, f.Payload)
	d.emit(diag.Event{
		Kind:    diag.KindChecksum,
		Command: f.Command,
		Bytes:   len(f.Payload),
		Message: fmt.Sprintf("checksum 0x%02x, want 0x%02x", f.Checksum, want),
	})

	d.resync.Scan(d.stream)
	d.noteResync("checksum mismatch")
}

func (d *Decoder) noteResync(reason string) {
	d.mu.Lock()
	d.stats.Resyncs = d.resync.Count()
	d.stats.LastResyncCommand = d.resync.LastCommand()
	d.mu.Unlock()

	d.emit(diag.Event{
		Kind:        diag.KindResync,
		Command:     d.resync.LastCommand(),
		ResyncCount: d.resync.Count(),
		Message:     reason,
	})
}

func (d *Decoder) ioError(cmd byte, err error) int {
	d.mu.Lock()
	d.stats.IOErrors++
	if transport.IsTerminal(err) && d.err == nil {
		d.err = err
	}
	d.mu.Unlock()

	d.emit(diag.Event{Kind: diag.KindIOError, Command: cmd, Message: err.Error()})
	return 0
}

func (d *Decoder) emit(e diag.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	d.opts.Sink.Emit(e)
}
