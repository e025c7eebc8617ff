package link

import (
	"context"
	"fmt"

	"github.com/mksystems/hwlink/internal/protocol"
)

var utReplies = map[byte]int{
	protocol.UTGetStatus: 2,
	protocol.UTReadFPGA:  2,
}

var controlReplies = map[byte]int{
	protocol.CtlGetStatus:             2,
	protocol.CtlGetChassisSlotAddress: protocol.CtlChassisSlotAddressLength,
	protocol.CtlGetInspectPacket:      protocol.CtlInspectPacketSize,
	protocol.CtlGetMonitorPacket:      protocol.CtlMonitorPacketSize,
}

// ReplySizes returns the payload sizes of the replies a host expects from
// boards of dialect d. PLC messages are fixed length and not listed.
func ReplySizes(d protocol.Dialect) map[byte]int {
	switch d.Name {
	case protocol.DialectUT.Name:
		return utReplies
	case protocol.DialectControl.Name:
		return controlReplies
	default:
		return nil
	}
}

// GetStatus asks the board for its status byte.
func (s *Session) GetStatus(ctx context.Context) (byte, error) {
	cmd := byte(protocol.UTGetStatus)
	switch s.dialect.Name {
	case protocol.DialectUT.Name:
	case protocol.DialectControl.Name:
		cmd = protocol.CtlGetStatus
	default:
		return 0, fmt.Errorf("board %s: no status command for dialect %s", s.board.Name, s.dialect.Name)
	}

	p, err := s.Request(ctx, cmd, cmd)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, fmt.Errorf("board %s: empty %s reply", s.board.Name, s.dialect.CommandName(cmd))
	}
	return p[0], nil
}

// ChassisSlot reads the board's chassis and slot address. The address byte
// is chassis<<4 | slot; UT boards report it inverted.
func (s *Session) ChassisSlot(ctx context.Context) (chassis, slot int, err error) {
	var (
		p   []byte
		cmd byte
	)
	switch s.dialect.Name {
	case protocol.DialectUT.Name:
		cmd = protocol.UTReadFPGA
		p, err = s.Request(ctx, cmd, cmd, protocol.UTChassisSlotRegister)
	case protocol.DialectControl.Name:
		cmd = protocol.CtlGetChassisSlotAddress
		p, err = s.Request(ctx, cmd, cmd)
	default:
		return 0, 0, fmt.Errorf("board %s: no address command for dialect %s", s.board.Name, s.dialect.Name)
	}
	if err != nil {
		return 0, 0, err
	}
	if len(p) == 0 {
		return 0, 0, fmt.Errorf("board %s: empty %s reply", s.board.Name, s.dialect.CommandName(cmd))
	}
	chassis, slot = decodeAddress(s.dialect, p[0])
	return chassis, slot, nil
}

// decodeAddress splits an address byte into chassis and slot.
func decodeAddress(d protocol.Dialect, b byte) (chassis, slot int) {
	if d.Name == protocol.DialectUT.Name {
		b = ^b
	}
	return int(b >> 4), int(b & 0x0F)
}
