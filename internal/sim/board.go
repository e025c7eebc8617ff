package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/protocol"
	"github.com/mksystems/hwlink/internal/transport"
)

// Status flag bits reported by GET_STATUS.
const (
	StatusFPGALoaded = 0x01
)

// ChassisSlotRegister is the FPGA register a UT board reads to report its
// chassis and slot address.
const ChassisSlotRegister = protocol.UTChassisSlotRegister

// Options configures a simulated board.
type Options struct {
	Chassis int
	Slot    int
	Status  byte

	// Checksum is how inbound host frames are checked. The zero value
	// verifies.
	Checksum     protocol.ChecksumMode
	PollInterval time.Duration
	Sink         diag.Sink
}

// Board simulates one UT or control board on a stream. It answers the
// status and address queries and accepts the common set-up commands.
type Board struct {
	dialect protocol.Dialect
	stream  transport.Stream
	dec     *protocol.Decoder
	out     *protocol.Builder
	poll    time.Duration

	status  byte
	address byte

	mu        sync.Mutex
	fpga      map[byte]byte
	inspect   inspectState
	monitor   bool
	requests  uint64
	exitAsked bool
}

type inspectState struct {
	running  bool
	packets  uint16
	encoder1 int32
	encoder2 int32
}

// New returns a simulated board for dialect d on s. The PLC dialect is not
// simulated.
func New(d protocol.Dialect, s transport.Stream, opts Options) (*Board, error) {
	if d.Name == protocol.DialectPLC.Name {
		return nil, fmt.Errorf("no simulator for dialect %s", d.Name)
	}
	if opts.Checksum == protocol.ChecksumNone {
		opts.Checksum = protocol.ChecksumVerify
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.Status == 0 {
		opts.Status = StatusFPGALoaded
	}

	b := &Board{
		dialect: d,
		stream:  s,
		poll:    opts.PollInterval,
		status:  opts.Status,
		address: byte(opts.Chassis<<4)&0xF0 | byte(opts.Slot)&0x0F,
		fpga:    make(map[byte]byte),
	}
	b.dec = protocol.NewDecoder(d, s, protocol.Options{
		Checksum: opts.Checksum,
		Unknown:  protocol.UnknownResync,
		Sink:     opts.Sink,
	})
	b.out = protocol.NewBuilder(d, s, nil)

	if d.Name == protocol.DialectControl.Name {
		b.registerControl()
	} else {
		b.registerUT()
	}
	return b, nil
}

func (b *Board) registerUT() {
	b.dec.HandleFunc(protocol.UTGetStatus, 0, b.reply(protocol.UTGetStatus, b.statusReply))
	b.dec.HandleFunc(protocol.UTReadFPGA, 1, b.readFPGA)
	b.dec.HandleFunc(protocol.UTWriteFPGA, 2, b.writeFPGA)
	b.dec.HandleFunc(protocol.UTResetForNextRun, 0, b.count)
	b.dec.HandleFunc(protocol.UTExit, 0, b.exit)
	b.dec.Skip(protocol.UTWriteDSP, 6)
	b.dec.Skip(protocol.UTWriteNextDSP, 2)
	b.dec.Skip(protocol.UTSetHardwareGain, 2)
	b.dec.Skip(protocol.UTSetRepRate, 4)
	b.dec.Skip(protocol.UTSetControlFlags, 3)
	b.dec.Skip(protocol.UTZeroDSP, 2)
}

func (b *Board) registerControl() {
	b.dec.HandleFunc(protocol.CtlGetStatus, 0, b.reply(protocol.CtlGetStatus, b.statusReply))
	b.dec.HandleFunc(protocol.CtlGetChassisSlotAddress, 0, b.reply(protocol.CtlGetChassisSlotAddress, b.addressReply))
	b.dec.HandleFunc(protocol.CtlGetInspectPacket, 1, b.reply(protocol.CtlGetInspectPacket, b.inspectPacket))
	b.dec.HandleFunc(protocol.CtlGetMonitorPacket, 1, b.reply(protocol.CtlGetMonitorPacket, b.monitorPacket))
	b.dec.HandleFunc(protocol.CtlZeroEncoders, 1, b.zeroEncoders)
	b.dec.HandleFunc(protocol.CtlStartInspect, 1, b.setInspect(true))
	b.dec.HandleFunc(protocol.CtlStopInspect, 1, b.setInspect(false))
	b.dec.HandleFunc(protocol.CtlStartMonitor, 1, b.setMonitor(true))
	b.dec.HandleFunc(protocol.CtlStopMonitor, 1, b.setMonitor(false))
	b.dec.HandleFunc(protocol.CtlExit, 0, b.exit)
	b.dec.Skip(protocol.CtlPulseOutput, 1)
	b.dec.Skip(protocol.CtlTurnOnOutput, 1)
	b.dec.Skip(protocol.CtlTurnOffOutput, 1)
	b.dec.Skip(protocol.CtlSetEncodersDeltaTrigger, 2)
}

func (b *Board) reply(cmd byte, payload func() []byte) func(protocol.Frame) error {
	return func(protocol.Frame) error {
		b.countRequest()
		_, err := b.out.Send(cmd, payload()...)
		return err
	}
}

func (b *Board) statusReply() []byte  { return []byte{b.status, 0} }
func (b *Board) addressReply() []byte { return []byte{b.address, 0} }

func (b *Board) readFPGA(f protocol.Frame) error {
	b.countRequest()
	reg := f.Payload[0]
	if reg == ChassisSlotRegister {
		// UT boards read their address switches active low.
		_, err := b.out.Send(protocol.UTReadFPGA, ^b.address, 0)
		return err
	}
	b.mu.Lock()
	v := b.fpga[reg]
	b.mu.Unlock()
	_, err := b.out.Send(protocol.UTReadFPGA, v, 0)
	return err
}

func (b *Board) writeFPGA(f protocol.Frame) error {
	b.countRequest()
	b.mu.Lock()
	b.fpga[f.Payload[0]] = f.Payload[1]
	b.mu.Unlock()
	return nil
}

func (b *Board) inspectPacket() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inspect.packets++
	if b.inspect.running {
		b.inspect.encoder1 += 10
		b.inspect.encoder2 += 10
	}

	p := make([]byte, protocol.CtlInspectPacketSize)
	binary.BigEndian.PutUint16(p[0:], b.inspect.packets)
	binary.BigEndian.PutUint32(p[2:], uint32(b.inspect.encoder1))
	binary.BigEndian.PutUint32(p[6:], uint32(b.inspect.encoder2))
	if b.inspect.running {
		p[10] = 0x01
	}
	return p
}

func (b *Board) monitorPacket() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := make([]byte, protocol.CtlMonitorPacketSize)
	binary.BigEndian.PutUint32(p[0:], uint32(b.inspect.encoder1))
	binary.BigEndian.PutUint32(p[4:], uint32(b.inspect.encoder2))
	if b.monitor {
		p[8] = 0x01
	}
	return p
}

func (b *Board) zeroEncoders(protocol.Frame) error {
	b.countRequest()
	b.mu.Lock()
	b.inspect.encoder1, b.inspect.encoder2 = 0, 0
	b.mu.Unlock()
	return nil
}

func (b *Board) setInspect(on bool) func(protocol.Frame) error {
	return func(protocol.Frame) error {
		b.countRequest()
		b.mu.Lock()
		b.inspect.running = on
		b.mu.Unlock()
		return nil
	}
}

func (b *Board) setMonitor(on bool) func(protocol.Frame) error {
	return func(protocol.Frame) error {
		b.countRequest()
		b.mu.Lock()
		b.monitor = on
		b.mu.Unlock()
		return nil
	}
}

func (b *Board) count(protocol.Frame) error {
	b.countRequest()
	return nil
}

func (b *Board) exit(protocol.Frame) error {
	b.countRequest()
	b.mu.Lock()
	b.exitAsked = true
	b.mu.Unlock()
	return nil
}

func (b *Board) countRequest() {
	b.mu.Lock()
	b.requests++
	b.mu.Unlock()
}

// Requests returns the number of host requests handled.
func (b *Board) Requests() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

// Address returns the board's chassis<<4 | slot byte. UT boards report it
// inverted through FPGA register 0x08.
func (b *Board) Address() byte { return b.address }

// Decoder exposes the board's decoder for statistics.
func (b *Board) Decoder() *protocol.Decoder { return b.dec }

// PollOnce handles whatever host frames are already buffered.
func (b *Board) PollOnce() int {
	return b.dec.Drain()
}

// Run answers host requests until ctx is done, the host sends EXIT, or the
// stream closes. The stream is closed on return.
func (b *Board) Run(ctx context.Context) error {
	defer b.stream.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		b.dec.PollBlocking(b.poll)

		if err := b.dec.Err(); err != nil {
			if transport.IsTerminal(err) {
				return nil
			}
			return err
		}

		b.mu.Lock()
		exit := b.exitAsked
		b.mu.Unlock()
		if exit {
			return nil
		}
	}
}
