package protocol

import (
	"github.com/mksystems/hwlink/internal/transport"
)

// Resync recovers header alignment after a framing error.
//
// A scan can stop on a byte that only equals the start byte, such as a
// checksum or a payload byte. When the real header follows directly, the
// next header check fails on the real start byte, which Run then takes as
// the new header start: the frame is still decoded, at the cost of one
// extra resync. A stray start byte followed by bytes that happen to match
// the rest of the magic cannot be told apart from a header.
//
// It is owned by a single decoder and is not safe for concurrent use.
type Resync struct {
	start byte

	// synced is set when the first header byte of the next frame has
	// already been consumed.
	synced bool

	count       uint64
	lastGood    byte
	lastCommand byte
}

// NewResync returns a Resync that scans for start, the first magic byte.
func NewResync(start byte) *Resync {
	return &Resync{start: start}
}

// Run handles a header mismatch on the byte offending. When offending is
// itself a start byte it is taken as the new header start; otherwise Run
// scans the stream like Scan.
func (r *Resync) Run(s transport.Stream, offending byte) bool {
	if offending == r.start {
		r.begin()
		r.synced = true
		return true
	}
	return r.Scan(s)
}

// Scan discards buffered bytes one at a time until a start byte is found,
// which returns true, or no bytes remain, which returns false and leaves
// the next poll to start fresh.
func (r *Resync) Scan(s transport.Stream) bool {
	r.begin()

	var one [1]byte
	for s.Available() > 0 {
		if err := s.ReadExact(one[:], 0); err != nil {
			return false
		}
		if one[0] == r.start {
			r.synced = true
			return true
		}
	}
	return false
}

func (r *Resync) begin() {
	r.count++
	r.lastCommand = r.lastGood
	r.synced = false
}

// Good records a successfully decoded frame.
func (r *Resync) Good(cmd byte) {
	r.lastGood = cmd
	r.synced = false
}

// take reports and clears the synced flag.
func (r *Resync) take() bool {
	s := r.synced
	r.synced = false
	return s
}

// Synced reports whether the next header's first byte was already consumed.
func (r *Resync) Synced() bool { return r.synced }

// Count returns the number of resyncs run so far.
func (r *Resync) Count() uint64 { return r.count }

// LastCommand returns the command of the last good frame seen before the
// most recent resync.
func (r *Resync) LastCommand() byte { return r.lastCommand }

// Reset clears all state, for reuse on a new connection.
func (r *Resync) Reset() {
	*r = Resync{start: r.start}
}
