package protocol

import (
	"fmt"
	"strings"
)

// Dialect describes the framing used on one kind of board link.
type Dialect struct {
	Name string

	// Magic is the header sequence every frame starts with.
	Magic []byte

	// Checksum reports whether outbound frames end with a checksum byte.
	Checksum bool

	// Commands names the closed set of command bytes, for logs only.
	Commands map[byte]string
}

// Magic header sequences.
var (
	BoardMagic = []byte{0xAA, 0x55, 0xBB, 0x66}
	PLCMagic   = []byte{'^'}
)

// UT board commands. These must match the board firmware.
const (
	UTNoAction          = 0
	UTMonitor           = 1
	UTZeroEncoders      = 2
	UTRefresh           = 3
	UTLoadFPGA          = 4
	UTSendData          = 5
	UTData              = 6
	UTWriteFPGA         = 7
	UTReadFPGA          = 8
	UTGetStatus         = 9
	UTSetHardwareGain   = 10
	UTWriteDSP          = 11
	UTWriteNextDSP      = 12
	UTReadDSP           = 13
	UTReadNextDSP       = 14
	UTReadDSPBlock      = 15
	UTZeroDSP           = 16
	UTGetAScan          = 17
	UTMessageDSP        = 18
	UTGetPeakData       = 19
	UTGetPeakData4      = 20
	UTLoadFirmware      = 22
	UTSetRepRate        = 23
	UTSetControlFlags   = 24
	UTGetWallMap        = 25
	UTResetForNextRun   = 26
	UTSetMappingChannel = 27
	UTDebug             = 126
	UTExit              = 127
)

// UTChassisSlotRegister is the FPGA register holding a UT board's chassis
// and slot address, chassis in the high nibble.
const UTChassisSlotRegister = 0x08

// Control board commands.
const (
	CtlNoAction                 = 0
	CtlGetInspectPacket         = 1
	CtlZeroEncoders             = 2
	CtlGetMonitorPacket         = 3
	CtlPulseOutput              = 4
	CtlTurnOnOutput             = 5
	CtlTurnOffOutput            = 6
	CtlSetEncodersDeltaTrigger  = 7
	CtlStartInspect             = 8
	CtlStopInspect              = 9
	CtlStartMonitor             = 10
	CtlStopMonitor              = 11
	CtlGetStatus                = 12
	CtlLoadFirmware             = 13
	CtlSendData                 = 14
	CtlData                     = 15
	CtlGetChassisSlotAddress    = 16
	CtlError                    = 125
	CtlDebug                    = 126
	CtlExit                     = 127
	CtlMonitorPacketSize        = 25
	CtlInspectPacketSize        = 12
	CtlChassisSlotAddressLength = 2
)

var utCommands = map[byte]string{
	UTNoAction:          "NO_ACTION",
	UTMonitor:           "MONITOR",
	UTZeroEncoders:      "ZERO_ENCODERS",
	UTRefresh:           "REFRESH",
	UTLoadFPGA:          "LOAD_FPGA",
	UTSendData:          "SEND_DATA",
	UTData:              "DATA",
	UTWriteFPGA:         "WRITE_FPGA",
	UTReadFPGA:          "READ_FPGA",
	UTGetStatus:         "GET_STATUS",
	UTSetHardwareGain:   "SET_HDW_GAIN",
	UTWriteDSP:          "WRITE_DSP",
	UTWriteNextDSP:      "WRITE_NEXT_DSP",
	UTReadDSP:           "READ_DSP",
	UTReadNextDSP:       "READ_NEXT_DSP",
	UTReadDSPBlock:      "READ_DSP_BLOCK",
	UTZeroDSP:           "ZERO_DSP",
	UTGetAScan:          "GET_ASCAN",
	UTMessageDSP:        "MESSAGE_DSP",
	UTGetPeakData:       "GET_PEAK_DATA",
	UTGetPeakData4:      "GET_PEAK_DATA4",
	UTLoadFirmware:      "LOAD_FIRMWARE",
	UTSetRepRate:        "SET_REP_RATE",
	UTSetControlFlags:   "SET_CONTROL_FLAGS",
	UTGetWallMap:        "GET_WALL_MAP",
	UTResetForNextRun:   "RESET_FOR_NEXT_RUN",
	UTSetMappingChannel: "SET_MAPPING_CHANNEL",
	UTDebug:             "DEBUG",
	UTExit:              "EXIT",
}

var controlCommands = map[byte]string{
	CtlNoAction:                "NO_ACTION",
	CtlGetInspectPacket:        "GET_INSPECT_PACKET",
	CtlZeroEncoders:            "ZERO_ENCODERS",
	CtlGetMonitorPacket:        "GET_MONITOR_PACKET",
	CtlPulseOutput:             "PULSE_OUTPUT",
	CtlTurnOnOutput:            "TURN_ON_OUTPUT",
	CtlTurnOffOutput:           "TURN_OFF_OUTPUT",
	CtlSetEncodersDeltaTrigger: "SET_ENCODERS_DELTA_TRIGGER",
	CtlStartInspect:            "START_INSPECT",
	CtlStopInspect:             "STOP_INSPECT",
	CtlStartMonitor:            "START_MONITOR",
	CtlStopMonitor:             "STOP_MONITOR",
	CtlGetStatus:               "GET_STATUS",
	CtlLoadFirmware:            "LOAD_FIRMWARE",
	CtlSendData:                "SEND_DATA",
	CtlData:                    "DATA",
	CtlGetChassisSlotAddress:   "GET_CHASSIS_SLOT_ADDRESS",
	CtlError:                   "ERROR",
	CtlDebug:                   "DEBUG",
	CtlExit:                    "EXIT",
}

// Built-in dialects.
var (
	DialectUT = Dialect{
		Name:     "ut",
		Magic:    BoardMagic,
		Checksum: true,
		Commands: utCommands,
	}

	DialectControl = Dialect{
		Name:     "control",
		Magic:    BoardMagic,
		Checksum: true,
		Commands: controlCommands,
	}

	DialectPLC = Dialect{
		Name:  "plc",
		Magic: PLCMagic,
	}
)

// DialectByName returns a built-in dialect ("ut", "control" or "plc").
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "ut", "":
		return DialectUT, nil
	case "control":
		return DialectControl, nil
	case "plc":
		return DialectPLC, nil
	default:
		return Dialect{}, fmt.Errorf("unknown dialect %q (expected ut, control or plc)", name)
	}
}

// HeaderLen is the number of magic bytes.
func (d Dialect) HeaderLen() int { return len(d.Magic) }

// MinAvailable is the number of bytes that must be buffered before a
// decoder starts consuming a header: the magic plus the command byte.
func (d Dialect) MinAvailable() int { return len(d.Magic) + 1 }

// CommandName returns a human-readable name for a command byte.
func (d Dialect) CommandName(cmd byte) string {
	if name, ok := d.Commands[cmd]; ok {
		return name
	}
	if cmd >= 0x21 && cmd <= 0x7e {
		return fmt.Sprintf("'%c'", cmd)
	}
	return fmt.Sprintf("Unknown(0x%02x)", cmd)
}
