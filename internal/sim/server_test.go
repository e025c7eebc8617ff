package sim

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/mksystems/hwlink/internal/protocol"
	"github.com/mksystems/hwlink/internal/transport"
)

func TestServerAnswersOverTCP(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Listen:  "127.0.0.1:0",
		Dialect: protocol.DialectControl,
		Board:   Options{Chassis: 3, Slot: 1, PollInterval: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	sock, err := transport.Dial(srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sock.Close()

	h := newHost(t, protocol.DialectControl, sock, map[byte]int{protocol.CtlGetStatus: 2})
	reply := h.request(t, protocol.CtlGetStatus)
	if !bytes.Equal(reply.Payload, []byte{StatusFPGALoaded, 0}) {
		t.Errorf("status = % x, want 01 00", reply.Payload)
	}
	if got := srv.GetActiveConnections(); got != 1 {
		t.Errorf("GetActiveConnections() = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	if err := sock.WaitAvailable(1, 2*time.Second); !transport.IsTerminal(err) {
		t.Errorf("host link after shutdown: %v, want closed", err)
	}
}

func TestNewServerRejectsPLC(t *testing.T) {
	if _, err := NewServer(ServerConfig{Dialect: protocol.DialectPLC}); err == nil {
		t.Error("NewServer() for the PLC dialect should fail")
	}
}

// failingListener fails every Accept, then reports closed after failures
// attempts when failures > 0.
type failingListener struct {
	calls    atomic.Int32
	failures int32
}

func (l *failingListener) Accept() (net.Conn, error) {
	n := l.calls.Add(1)
	if l.failures > 0 && n > l.failures {
		return nil, net.ErrClosed
	}
	return nil, errors.New("accept: too many open files")
}

func (l *failingListener) Close() error   { return nil }
func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestAcceptErrorsBackOff(t *testing.T) {
	t.Run("retries after delay", func(t *testing.T) {
		srv, err := NewServer(ServerConfig{Dialect: protocol.DialectUT})
		if err != nil {
			t.Fatalf("NewServer() error = %v", err)
		}
		l := &failingListener{failures: 3}
		srv.listener = l
		srv.acceptBackoff = func() backoff.BackOff { return backoff.NewConstantBackOff(20 * time.Millisecond) }

		start := time.Now()
		if err := srv.acceptConnections(context.Background()); err != nil {
			t.Fatalf("acceptConnections() error = %v", err)
		}
		if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
			t.Errorf("three failed accepts returned after %v, want at least 60ms", elapsed)
		}
		if got := l.calls.Load(); got != 4 {
			t.Errorf("Accept called %d times, want 4", got)
		}
	})

	t.Run("persistent failure stops on cancel", func(t *testing.T) {
		srv, err := NewServer(ServerConfig{Dialect: protocol.DialectUT})
		if err != nil {
			t.Fatalf("NewServer() error = %v", err)
		}
		l := &failingListener{}
		srv.listener = l
		srv.acceptBackoff = func() backoff.BackOff { return backoff.NewConstantBackOff(50 * time.Millisecond) }

		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- srv.acceptConnections(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("acceptConnections() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("acceptConnections() did not return after cancel")
		}
		if got := l.calls.Load(); got > 5 {
			t.Errorf("Accept called %d times in 120ms, want a handful", got)
		}
	})

	t.Run("stop ends the loop", func(t *testing.T) {
		srv, err := NewServer(ServerConfig{Dialect: protocol.DialectUT})
		if err != nil {
			t.Fatalf("NewServer() error = %v", err)
		}
		srv.listener = &failingListener{}
		srv.acceptBackoff = func() backoff.BackOff { return &backoff.StopBackOff{} }

		if err := srv.acceptConnections(context.Background()); err == nil {
			t.Error("acceptConnections() error = nil, want the accept error")
		}
	})
}
