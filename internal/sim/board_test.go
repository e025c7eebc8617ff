package sim

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mksystems/hwlink/internal/protocol"
	"github.com/mksystems/hwlink/internal/transport"
)

type hostSide struct {
	dec    *protocol.Decoder
	out    *protocol.Builder
	frames chan protocol.Frame
}

func newHost(t *testing.T, d protocol.Dialect, s transport.Stream, replies map[byte]int) *hostSide {
	t.Helper()
	h := &hostSide{
		dec:    protocol.NewDecoder(d, s, protocol.Options{Checksum: protocol.ChecksumVerify, ReadTimeout: time.Second}),
		out:    protocol.NewBuilder(d, s, nil),
		frames: make(chan protocol.Frame, 16),
	}
	for cmd, size := range replies {
		h.dec.HandleFunc(cmd, size, func(f protocol.Frame) error {
			f.Payload = append([]byte(nil), f.Payload...)
			h.frames <- f
			return nil
		})
	}
	return h
}

func (h *hostSide) request(t *testing.T, cmd byte, payload ...byte) protocol.Frame {
	t.Helper()
	if _, err := h.out.Send(cmd, payload...); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.dec.PollBlocking(100 * time.Millisecond)
		select {
		case f := <-h.frames:
			return f
		default:
		}
	}
	t.Fatalf("no reply to command 0x%02x", cmd)
	return protocol.Frame{}
}

func startBoard(t *testing.T, d protocol.Dialect, opts Options) (*Board, *transport.PipeEnd) {
	t.Helper()
	host, boardEnd := transport.NewPipe()

	opts.PollInterval = 10 * time.Millisecond
	b, err := New(d, boardEnd, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = host.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("board did not stop")
		}
	})
	return b, host
}

func TestUTBoardStatusAndAddress(t *testing.T) {
	b, host := startBoard(t, protocol.DialectUT, Options{Chassis: 2, Slot: 5})
	h := newHost(t, protocol.DialectUT, host, map[byte]int{
		protocol.UTGetStatus: 2,
		protocol.UTReadFPGA:  2,
	})

	status := h.request(t, protocol.UTGetStatus)
	if !bytes.Equal(status.Payload, []byte{StatusFPGALoaded, 0}) {
		t.Errorf("status payload = % x, want 01 00", status.Payload)
	}

	addr := h.request(t, protocol.UTReadFPGA, ChassisSlotRegister)
	if addr.Payload[0] != ^byte(0x25) {
		t.Errorf("address = 0x%02x, want 0xda", addr.Payload[0])
	}

	if _, err := h.out.Send(protocol.UTWriteFPGA, 0x10, 0x7F); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	reg := h.request(t, protocol.UTReadFPGA, 0x10)
	if reg.Payload[0] != 0x7F {
		t.Errorf("register 0x10 = 0x%02x, want 0x7f", reg.Payload[0])
	}

	if got := b.Requests(); got != 4 {
		t.Errorf("Requests() = %d, want 4", got)
	}
}

func TestUTBoardSkipsSetupCommands(t *testing.T) {
	b, host := startBoard(t, protocol.DialectUT, Options{})
	h := newHost(t, protocol.DialectUT, host, map[byte]int{protocol.UTGetStatus: 2})

	if _, err := h.out.Send(protocol.UTWriteDSP, 1, 2, 3, 4, 5, 6); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := h.out.Send(protocol.UTSetControlFlags, 0, 0, 1); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	h.request(t, protocol.UTGetStatus)

	stats := b.Decoder().Stats()
	if stats.Frames != 3 || stats.Resyncs != 0 {
		t.Errorf("board decoder stats = %+v, want 3 frames and no resync", stats)
	}
}

func TestControlBoardPackets(t *testing.T) {
	_, host := startBoard(t, protocol.DialectControl, Options{Chassis: 1, Slot: 0})
	h := newHost(t, protocol.DialectControl, host, map[byte]int{
		protocol.CtlGetChassisSlotAddress: protocol.CtlChassisSlotAddressLength,
		protocol.CtlGetInspectPacket:      protocol.CtlInspectPacketSize,
		protocol.CtlGetMonitorPacket:      protocol.CtlMonitorPacketSize,
	})

	addr := h.request(t, protocol.CtlGetChassisSlotAddress)
	if addr.Payload[0] != 0x10 {
		t.Errorf("address = 0x%02x, want 0x10", addr.Payload[0])
	}

	if _, err := h.out.Send(protocol.CtlStartInspect, 0); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	first := h.request(t, protocol.CtlGetInspectPacket, 0)
	second := h.request(t, protocol.CtlGetInspectPacket, 0)
	if first.Payload[1] != 1 || second.Payload[1] != 2 {
		t.Errorf("inspect packet counts = %d %d, want 1 2", first.Payload[1], second.Payload[1])
	}
	if second.Payload[10] != 0x01 {
		t.Error("inspect flag not set after START_INSPECT")
	}

	monitor := h.request(t, protocol.CtlGetMonitorPacket, 0)
	if len(monitor.Payload) != protocol.CtlMonitorPacketSize {
		t.Errorf("monitor packet = %d bytes, want %d", len(monitor.Payload), protocol.CtlMonitorPacketSize)
	}
}

func TestBoardStopsOnExit(t *testing.T) {
	host, boardEnd := transport.NewPipe()
	defer host.Close()

	b, err := New(protocol.DialectUT, boardEnd, Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	if _, err := protocol.NewBuilder(protocol.DialectUT, host, nil).Send(protocol.UTExit); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("board did not stop on EXIT")
	}
}

func TestNewRejectsPLC(t *testing.T) {
	host, _ := transport.NewPipe()
	defer host.Close()
	if _, err := New(protocol.DialectPLC, host, Options{}); err == nil {
		t.Error("New() for the PLC dialect should fail")
	}
}
