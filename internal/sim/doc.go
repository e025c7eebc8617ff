// Package sim simulates UT and control boards for bench testing without
// hardware.
//
// A Board answers GET_STATUS with the FPGA-loaded flag and reports its
// chassis and slot address, either through GET_CHASSIS_SLOT_ADDRESS
// (control) or a READ_FPGA of ChassisSlotRegister (UT). Set-up commands
// such as WRITE_DSP or SET_CONTROL_FLAGS are accepted and discarded.
// Replies are ordinary frames with a checksum trailer.
//
// Server runs one Board per accepted TCP connection and can advertise
// itself over mDNS so hosts find it with the discovery package.
//
// Unlike the boards it imitates, the simulator sends no text greeting on
// connect: the host side expects only frames on the link.
package sim
