package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestPipeFlushMakesBytesAvailable(t *testing.T) {
	host, board := NewPipe()
	defer host.Close()

	if _, err := host.Write([]byte{0xAA, 0x55}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := board.Available(); got != 0 {
		t.Errorf("Available() before Flush = %d, want 0", got)
	}

	if err := host.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := board.Available(); got != 2 {
		t.Errorf("Available() after Flush = %d, want 2", got)
	}

	buf := make([]byte, 2)
	if err := board.ReadExact(buf, time.Second); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if !bytes.Equal(buf, []byte{0xAA, 0x55}) {
		t.Errorf("ReadExact() = % x, want aa 55", buf)
	}
	if got := board.Available(); got != 0 {
		t.Errorf("Available() after read = %d, want 0", got)
	}
}

func TestPipeReadExactTimeout(t *testing.T) {
	host, board := NewPipe()
	defer host.Close()

	if err := board.Inject([]byte{0x01}); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	buf := make([]byte, 2)
	err := board.ReadExact(buf, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadExact() error = %v, want ErrTimeout", err)
	}
	if got := board.Available(); got != 1 {
		t.Errorf("a timed out read must not consume bytes, Available() = %d", got)
	}
}

func TestPipeWaitAvailableWakesOnFlush(t *testing.T) {
	host, board := NewPipe()
	defer host.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = host.Write([]byte{1, 2, 3})
		_ = host.Flush()
	}()

	if err := board.WaitAvailable(3, time.Second); err != nil {
		t.Fatalf("WaitAvailable() error = %v", err)
	}
}

func TestPipeCloseWakesBlockedReader(t *testing.T) {
	host, board := NewPipe()

	errc := make(chan error, 1)
	go func() {
		errc <- board.ReadExact(make([]byte, 4), 0)
	}()

	time.Sleep(10 * time.Millisecond)
	_ = host.Close()

	select {
	case err := <-errc:
		if !IsTerminal(err) {
			t.Errorf("ReadExact() after close error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked reader was not released by Close")
	}
}

func TestPipeBufferedBytesReadableAfterClose(t *testing.T) {
	host, board := NewPipe()

	_, _ = host.Write([]byte{9, 8})
	_ = host.Flush()
	_ = host.Close()

	buf := make([]byte, 2)
	if err := board.ReadExact(buf, time.Second); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if err := board.ReadExact(buf[:1], time.Second); !IsTerminal(err) {
		t.Errorf("ReadExact() past end error = %v, want ErrClosed", err)
	}
	if _, err := board.Write([]byte{1}); err != nil {
		t.Fatalf("Write() on open end error = %v", err)
	}
	if err := board.Flush(); !IsTerminal(err) {
		t.Errorf("Flush() towards closed peer error = %v, want ErrClosed", err)
	}
}

func TestSocketRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	left := NewSocket(a)
	right := NewSocket(b)
	defer left.Close()
	defer right.Close()

	want := []byte{0xAA, 0x55, 0xBB, 0x66, 0x09}
	if _, err := left.Write(want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := left.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got := make([]byte, len(want))
	if err := right.ReadExact(got, time.Second); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadExact() = % x, want % x", got, want)
	}
}

func TestSocketPeerCloseIsTerminal(t *testing.T) {
	a, b := net.Pipe()
	left := NewSocket(a)
	right := NewSocket(b)
	defer right.Close()

	_ = left.Close()

	select {
	case <-right.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after peer close")
	}

	err := right.WaitAvailable(1, time.Second)
	if !IsTerminal(err) {
		t.Errorf("WaitAvailable() error = %v, want ErrClosed", err)
	}
}
