package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	// readChunk is the size of a single socket read by the pump goroutine.
	readChunk = 4096

	// DefaultWriteTimeout bounds a single Flush on a socket.
	DefaultWriteTimeout = 5 * time.Second
)

// Socket is a Stream backed by a net.Conn.
type Socket struct {
	conn net.Conn
	in   *queue

	wmu          sync.Mutex
	w            *bufio.Writer
	writeTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewSocket wraps an established connection and starts pumping received
// bytes into the read queue.
func NewSocket(conn net.Conn) *Socket {
	s := &Socket{
		conn:         conn,
		in:           newQueue(),
		w:            bufio.NewWriter(conn),
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}
	go s.pump()
	return s
}

// Dial opens a TCP connection to addr.
func Dial(addr string, timeout time.Duration) (*Socket, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return NewSocket(conn), nil
}

// SetWriteTimeout changes the per-flush write deadline. Zero disables it.
func (s *Socket) SetWriteTimeout(d time.Duration) {
	s.wmu.Lock()
	s.writeTimeout = d
	s.wmu.Unlock()
}

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Done is closed once the receive side has stopped.
func (s *Socket) Done() <-chan struct{} { return s.done }

func (s *Socket) pump() {
	defer close(s.done)

	buf := make([]byte, readChunk)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if perr := s.in.push(buf[:n]); perr != nil {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.in.fail(ErrClosed)
			} else {
				s.in.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			return
		}
	}
}

func (s *Socket) Available() int { return s.in.available() }

func (s *Socket) WaitAvailable(n int, timeout time.Duration) error {
	return s.in.wait(n, timeout)
}

func (s *Socket) ReadExact(p []byte, timeout time.Duration) error {
	return s.in.read(p, timeout)
}

func (s *Socket) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.w.Write(p)
}

func (s *Socket) Flush() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if err := s.w.Flush(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close closes the connection; the pump exits and blocked readers return.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.in.fail(ErrClosed)
		err = s.conn.Close()
	})
	return err
}

var _ Stream = (*Socket)(nil)
