// Package protocol implements the framed binary protocol spoken by UT
// boards, control boards and the PLC link.
//
// # Frame Format
//
// Board frames (UT and control dialects):
//
//	Offset  Size  Field
//	0       4     Magic: 0xAA 0x55 0xBB 0x66
//	4       1     Command byte
//	5       N     Command-specific payload
//	5+N     1     Checksum: (0x100 - sum(command..last payload byte)) & 0xFF
//
// PLC frames use a single '^' magic byte, no checksum, and a fixed 26 byte
// ASCII payload ending in '|' and a sequence digit (see EncodePLC).
//
// The payload length is not on the wire. It is known per command: a handler
// registered with Decoder.Handle declares a fixed size or reads a size
// field from a payload prefix.
//
// # Decoding
//
// Decoder reads header bytes one at a time and validates each against the
// magic. A mismatch hands over to Resync, which discards bytes until the
// next magic start byte, and the poll returns 0. At most one resync runs
// per poll, so a caller driving PollOnce or PollBlocking on a cadence keeps
// control of its CPU budget on a corrupted stream.
//
// A resync that lands on a byte which only happens to equal the start byte
// (a checksum, say) costs one more resync when the real header follows:
// the real start byte fails the header check and is taken as the new
// start, so the frame is still decoded. The protocol has no length prefix
// or escaping, so a false start followed by bytes matching the rest of the
// magic is read as a header.
//
// # Checksums and Unknown Commands
//
// Inbound checksums are handled per ChecksumMode: not present, read and
// ignored, or verified with a mismatch treated as a framing error. Commands
// without a handler are dropped (UnknownDrop) or resynced over
// (UnknownResync).
//
// # Sending
//
// Builder.Send writes magic, command, payload and checksum, then flushes,
// under a single lock.
package protocol
