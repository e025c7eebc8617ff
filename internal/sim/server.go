package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/discovery"
	"github.com/mksystems/hwlink/internal/logging"
	"github.com/mksystems/hwlink/internal/protocol"
	"github.com/mksystems/hwlink/internal/transport"
)

// ServerConfig holds the simulator server configuration
type ServerConfig struct {
	Listen  string // host:port
	Dialect protocol.Dialect
	Board   Options

	// Advertise registers the listener with mDNS under Instance.
	Advertise bool
	Instance  string
}

// Server accepts host connections and runs one simulated board per
// connection.
type Server struct {
	config      ServerConfig
	listener    net.Listener
	advert      *discovery.Advertisement
	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]*transport.Socket
	accepted    int
	cancel      context.CancelFunc

	// acceptBackoff paces retries after failed accepts.
	acceptBackoff func() backoff.BackOff
}

// NewServer creates a new simulator server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Dialect.Name == protocol.DialectPLC.Name {
		return nil, fmt.Errorf("no simulator for dialect %s", config.Dialect.Name)
	}
	if config.Dialect.Name == "" {
		config.Dialect = protocol.DialectUT
	}
	if config.Instance == "" {
		config.Instance = "hwlink-sim-" + config.Dialect.Name
	}
	return &Server{
		config:        config,
		activeConns:   make(map[string]*transport.Socket),
		acceptBackoff: defaultAcceptBackoff,
	}, nil
}

func defaultAcceptBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	return b
}

// Listen opens the TCP listener. It is separate from Serve so callers can
// learn the bound address before serving.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	logging.Info("Simulator listening for connections",
		zap.String("addr", s.listener.Addr().String()),
		zap.String("dialect", s.config.Dialect.Name),
	)

	if s.config.Advertise {
		port := s.listener.Addr().(*net.TCPAddr).Port
		txt := discovery.TXTRecords(s.config.Dialect.Name, s.config.Board.Chassis, s.config.Board.Slot)
		advert, err := discovery.Advertise(s.config.Instance, "", "", port, txt)
		if err != nil {
			logging.Warn("mDNS advertise failed", zap.Error(err))
		} else {
			s.advert = advert
			logging.Info("Advertising simulator",
				zap.String("instance", s.config.Instance),
				zap.String("service", discovery.ServiceType),
				zap.Int("port", port),
			)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.acceptConnections(ctx)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// acceptConnections runs until the listener closes or ctx is done. Accept
// errors back off so a persistent failure (out of file descriptors, say)
// does not spin.
func (s *Server) acceptConnections(ctx context.Context) error {
	retry := s.acceptBackoff()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay := retry.NextBackOff()
			if delay == backoff.Stop {
				return fmt.Errorf("accept: %w", err)
			}
			logging.Error("Failed to accept connection", zap.Error(err), zap.Duration("retry_in", delay))

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}
		retry.Reset()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	socket := transport.NewSocket(conn)
	remoteAddr := socket.RemoteAddr()

	s.mu.Lock()
	s.accepted++
	id := s.accepted
	s.activeConns[remoteAddr] = socket
	s.mu.Unlock()

	name := s.config.Instance + "/" + strconv.Itoa(id)

	defer func() {
		_ = socket.Close()
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
		logging.LogConnection(name, remoteAddr, "connection_closed")
	}()

	logging.LogConnection(name, remoteAddr, "connection_accepted")

	opts := s.config.Board
	if opts.Sink == nil {
		opts.Sink = diag.Tagged(name, "", diag.NewLogSink(5, 20))
	}
	board, err := New(s.config.Dialect, socket, opts)
	if err != nil {
		logging.Error("Failed to start simulated board", zap.String("remote_addr", remoteAddr), zap.Error(err))
		return
	}

	if err := board.Run(ctx); err != nil {
		logging.Error("Simulated board stopped", zap.String("remote_addr", remoteAddr), zap.Error(err))
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down simulator...")

	if s.cancel != nil {
		s.cancel()
	}
	s.advert.Shutdown()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	s.mu.Lock()
	for addr, socket := range s.activeConns {
		logging.Info("Closing active connection", zap.String("remote_addr", addr))
		_ = socket.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	logging.Sync()
	return nil
}

// GetActiveConnections returns the number of active connections
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
