package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mksystems/hwlink/internal/config"
	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/logging"
	"github.com/mksystems/hwlink/internal/protocol"
	"github.com/mksystems/hwlink/internal/sim"
	"github.com/mksystems/hwlink/internal/transport"
)

// ErrDisconnected is returned to requests still waiting when the link drops.
var ErrDisconnected = errors.New("link: board disconnected")

// State is the connection state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateStopped    State = "stopped"
)

// Dialer opens the stream to a board. ctx bounds the lifetime of anything
// the dialer starts alongside the stream.
type Dialer func(ctx context.Context) (transport.Stream, error)

// Option customises a Session.
type Option func(*Session)

// WithDialer replaces the dialer derived from the board configuration.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

// WithBackoff sets the reconnect policy. newPolicy is called once per
// reconnect cycle.
func WithBackoff(newPolicy func() backoff.BackOff) Option {
	return func(s *Session) { s.newBackoff = newPolicy }
}

// Status is a point-in-time view of a session.
type Status struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Session     string         `json:"session"`
	Dialect     string         `json:"dialect"`
	Address     string         `json:"address,omitempty"`
	Simulated   bool           `json:"simulated"`
	State       State          `json:"state"`
	ConnectedAt time.Time      `json:"connected_at,omitempty"`
	Connects    int            `json:"connects"`
	LastError   string         `json:"last_error,omitempty"`
	Stats       protocol.Stats `json:"stats"`
}

// Session owns the link to one configured board. Run keeps it connected;
// Send and Request may be called from any goroutine while it runs.
type Session struct {
	board   *config.Board
	uuid    string
	dialect protocol.Dialect
	opts    protocol.Options
	sink    diag.Sink
	out     *protocol.Builder

	dial       Dialer
	newBackoff func() backoff.BackOff
	extra      map[byte]protocol.Handler

	mu          sync.Mutex
	state       State
	ready       chan struct{}
	dec         *protocol.Decoder
	plc         *protocol.PLCWriter
	waiters     map[byte][]chan protocol.Frame
	connectedAt time.Time
	connects    int
	lastErr     string
	total       protocol.Stats
}

// NewSession prepares a session for board. Diagnostics are tagged with the
// board name and a fresh session UUID before reaching sink.
func NewSession(board *config.Board, sink diag.Sink, options ...Option) (*Session, error) {
	d, opts, err := board.DecoderOptions()
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", board.Name, err)
	}
	if sink == nil {
		sink = diag.Discard
	}

	s := &Session{
		board:   board,
		uuid:    uuid.NewString(),
		dialect: d,
		opts:    opts,
		state:   StateIdle,
		ready:   make(chan struct{}),
		extra:   make(map[byte]protocol.Handler),
		waiters: make(map[byte][]chan protocol.Frame),
	}
	s.sink = diag.Tagged(board.Name, s.uuid, sink)
	s.opts.Sink = s.sink
	s.out = protocol.NewBuilder(d, nil, s.sink)
	s.newBackoff = defaultBackoff

	for _, o := range options {
		o(s)
	}
	if s.dial == nil {
		if board.Simulate {
			s.dial = s.simulatedDialer()
		} else {
			s.dial = s.tcpDialer()
		}
	}
	return s, nil
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (s *Session) tcpDialer() Dialer {
	return func(ctx context.Context) (transport.Stream, error) {
		return transport.Dial(s.board.Address, s.board.DialTimeout)
	}
}

// simulatedDialer connects the session to an in-process simulated board
// over a pipe. The board stops when either end closes.
func (s *Session) simulatedDialer() Dialer {
	return func(ctx context.Context) (transport.Stream, error) {
		host, remote := transport.NewPipe()
		board, err := sim.New(s.dialect, remote, sim.Options{
			Chassis: s.board.Chassis,
			Slot:    s.board.Slot,
			Sink:    diag.Tagged(s.board.Name+"-sim", s.uuid, diag.NewLogSink(5, 20)),
		})
		if err != nil {
			host.Close()
			return nil, err
		}
		go func() {
			if err := board.Run(ctx); err != nil {
				logging.Warn("Simulated board stopped", zap.String("board", s.board.Name), zap.Error(err))
			}
		}()
		return host, nil
	}
}

// ID returns the board's configuration identity.
func (s *Session) ID() int { return s.board.ID }

// Name returns the board name.
func (s *Session) Name() string { return s.board.Name }

// UUID identifies this session in logs and diagnostics.
func (s *Session) UUID() string { return s.uuid }

// Dialect returns the board's dialect.
func (s *Session) Dialect() protocol.Dialect { return s.dialect }

// Handle registers an extra inbound handler. Frames it accepts are also
// delivered to pending requests. Call before Run.
func (s *Session) Handle(cmd byte, h protocol.Handler) {
	s.extra[cmd] = h
}

// Run keeps the board connected until ctx is done, redialling with backoff
// whenever the link drops. It returns nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	for {
		stream, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.serve(ctx, stream)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Session) connect(ctx context.Context) (transport.Stream, error) {
	s.setState(StateConnecting)

	var stream transport.Stream
	op := func() error {
		st, err := s.dial(ctx)
		if err != nil {
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()
			logging.Debug("Dial failed",
				zap.String("board", s.board.Name),
				zap.String("session", s.uuid),
				zap.Error(err),
			)
			return err
		}
		stream = st
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.board.Name, err)
	}
	return stream, nil
}

// serve runs the decoder on stream until it closes or ctx is done.
func (s *Session) serve(ctx context.Context, stream transport.Stream) {
	dec := protocol.NewDecoder(s.dialect, stream, s.opts)
	s.register(dec)
	s.out.Attach(stream)

	s.mu.Lock()
	s.dec = dec
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.connects++
	s.lastErr = ""
	if s.dialect.Name == protocol.DialectPLC.Name {
		s.plc = protocol.NewPLCWriter(stream, s.sink)
	}
	close(s.ready)
	s.mu.Unlock()

	s.sink.Emit(diag.Event{Kind: diag.KindConnection, Message: diag.Connected})
	logging.LogConnection(s.board.Name, s.remote(), "board_connected")

	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	poll := s.board.PollInterval
	for {
		dec.PollBlocking(poll)
		if err := dec.Err(); err != nil {
			break
		}
	}

	s.out.Attach(nil)
	stream.Close()

	s.mu.Lock()
	s.total = addStats(s.total, dec.Stats())
	s.dec = nil
	s.plc = nil
	s.state = StateConnecting
	s.ready = make(chan struct{})
	for cmd, list := range s.waiters {
		for _, ch := range list {
			close(ch)
		}
		delete(s.waiters, cmd)
	}
	s.mu.Unlock()

	s.sink.Emit(diag.Event{Kind: diag.KindConnection, Message: diag.Disconnected})
	logging.LogConnection(s.board.Name, s.remote(), "board_disconnected")
}

func (s *Session) remote() string {
	if s.board.Simulate {
		return "simulator"
	}
	return s.board.Address
}

// register installs the reply handlers for the dialect plus any extras.
func (s *Session) register(dec *protocol.Decoder) {
	if s.dialect.Name == protocol.DialectPLC.Name {
		h := protocol.PLCHandler(nil)
		h.OnFrame = s.deliver
		for c := byte(0x21); c <= 0x7e; c++ {
			dec.Handle(c, h)
		}
	} else {
		for cmd, size := range ReplySizes(s.dialect) {
			dec.HandleFunc(cmd, size, s.deliver)
		}
	}

	for cmd, h := range s.extra {
		next := h.OnFrame
		h.OnFrame = func(f protocol.Frame) error {
			s.deliver(f)
			if next != nil {
				return next(f)
			}
			return nil
		}
		dec.Handle(cmd, h)
	}
}

// deliver hands f to the oldest request waiting for its command.
func (s *Session) deliver(f protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.waiters[f.Command]
	if len(list) == 0 {
		return nil
	}
	list[0] <- f
	if len(list) == 1 {
		delete(s.waiters, f.Command)
	} else {
		s.waiters[f.Command] = list[1:]
	}
	return nil
}

func (s *Session) addWaiter(reply byte) (chan protocol.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, protocol.ErrNotConnected
	}
	ch := make(chan protocol.Frame, 1)
	s.waiters[reply] = append(s.waiters[reply], ch)
	return ch, nil
}

func (s *Session) dropWaiter(reply byte, ch chan protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[reply]
	for i, c := range list {
		if c == ch {
			s.waiters[reply] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(s.waiters[reply]) == 0 {
		delete(s.waiters, reply)
	}
}

func (s *Session) await(ctx context.Context, reply byte, ch chan protocol.Frame) (protocol.Frame, error) {
	select {
	case f, ok := <-ch:
		if !ok {
			return protocol.Frame{}, ErrDisconnected
		}
		return f, nil
	case <-ctx.Done():
		s.dropWaiter(reply, ch)
		return protocol.Frame{}, ctx.Err()
	}
}

// Send writes one frame to the board.
func (s *Session) Send(cmd byte, payload ...byte) (int, error) {
	if s.dialect.Name == protocol.DialectPLC.Name {
		return 0, fmt.Errorf("board %s: use SendPLC for plc boards", s.board.Name)
	}
	return s.out.Send(cmd, payload...)
}

// Request sends cmd and waits for the next frame carrying reply, returning
// its payload.
func (s *Session) Request(ctx context.Context, cmd, reply byte, payload ...byte) ([]byte, error) {
	ch, err := s.addWaiter(reply)
	if err != nil {
		return nil, err
	}
	if _, err := s.Send(cmd, payload...); err != nil {
		s.dropWaiter(reply, ch)
		return nil, err
	}
	f, err := s.await(ctx, reply, ch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.dialect.CommandName(cmd), err)
	}
	return f.Payload, nil
}

// SendPLC writes one PLC message with the next sequence number.
func (s *Session) SendPLC(lead byte, text string) (int, error) {
	s.mu.Lock()
	w := s.plc
	s.mu.Unlock()
	if s.dialect.Name != protocol.DialectPLC.Name {
		return 0, fmt.Errorf("board %s is not a plc board", s.board.Name)
	}
	if w == nil {
		return 0, protocol.ErrNotConnected
	}
	return w.Send(lead, text)
}

// RequestPLC sends a PLC message and waits for the next inbound message
// whose command is reply.
func (s *Session) RequestPLC(ctx context.Context, lead byte, text string, reply byte) (protocol.PLCMessage, error) {
	ch, err := s.addWaiter(reply)
	if err != nil {
		return protocol.PLCMessage{}, err
	}
	if _, err := s.SendPLC(lead, text); err != nil {
		s.dropWaiter(reply, ch)
		return protocol.PLCMessage{}, err
	}
	f, err := s.await(ctx, reply, ch)
	if err != nil {
		return protocol.PLCMessage{}, fmt.Errorf("plc %q: %w", text, err)
	}
	return protocol.ParsePLCPayload(f.Command, f.Payload)
}

// WaitConnected blocks until the session is connected or ctx is done.
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the session. Stats cover every connection
// the session has made.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:        s.board.ID,
		Name:      s.board.Name,
		Session:   s.uuid,
		Dialect:   s.dialect.Name,
		Address:   s.board.Address,
		Simulated: s.board.Simulate,
		State:     s.state,
		Connects:  s.connects,
		LastError: s.lastErr,
		Stats:     s.total,
	}
	if s.state == StateConnected {
		st.ConnectedAt = s.connectedAt
	}
	if s.dec != nil {
		st.Stats = addStats(st.Stats, s.dec.Stats())
	}
	return st
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func addStats(a, b protocol.Stats) protocol.Stats {
	a.Frames += b.Frames
	a.PayloadBytes += b.PayloadBytes
	a.Resyncs += b.Resyncs
	a.UnknownCommands += b.UnknownCommands
	a.ChecksumErrors += b.ChecksumErrors
	a.IOErrors += b.IOErrors
	a.HandlerErrors += b.HandlerErrors
	if b.Resyncs > 0 {
		a.LastResyncCommand = b.LastResyncCommand
	}
	return a
}
