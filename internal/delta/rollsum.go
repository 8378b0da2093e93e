// rollsum.go implements the weak, O(1)-updatable rolling checksum spec §9
// requires ("Rolling-hash O(1)": keep only two sums and an index, never a
// deque-backed window). No library in the example corpus implements an
// adaptive-window rolling checksum — rsync's own algorithm is the closest
// prior art and is hand-written by every implementation that needs it —
// so this is written by hand, per spec's explicit requirement.
package delta

// RollingChecksum is an Adler-style weak checksum supporting O(1) slide:
// adding the incoming byte and subtracting the outgoing one, without
// rescanning the window.
type RollingChecksum struct {
	a, b     uint32
	window   int
	first    byte
	pos      int
}

const rollsumCharOffset = 31

// NewRollingChecksum initializes the checksum over the first `window`
// bytes of data (len(data) must equal window).
func NewRollingChecksum(data []byte) *RollingChecksum {
	r := &RollingChecksum{window: len(data)}
	if len(data) > 0 {
		r.first = data[0]
	}
	var a, b uint32
	n := uint32(len(data))
	for i, c := range data {
		a += uint32(c) + rollsumCharOffset
		b += (n - uint32(i)) * (uint32(c) + rollsumCharOffset)
	}
	r.a, r.b = a, b
	return r
}

// Sum returns the current 32-bit weak checksum value, packing a and b the
// way rsync's rollsum does: (b << 16) | a.
func (r *RollingChecksum) Sum() uint32 {
	return (r.b << 16) | (r.a & 0xffff)
}

// Roll slides the window forward by one byte: outByte leaves at the front,
// inByte enters at the back. O(1) regardless of window size.
func (r *RollingChecksum) Roll(outByte, inByte byte) {
	n := uint32(r.window)
	r.a = r.a - (uint32(outByte) + rollsumCharOffset) + (uint32(inByte) + rollsumCharOffset)
	r.b = r.b - n*(uint32(outByte)+rollsumCharOffset) + r.a
}

// RollsumOf computes the weak checksum for a standalone block without
// constructing a RollingChecksum, used when testing a terminal partial
// block for an exact match (spec §4.4 step 3).
func RollsumOf(data []byte) uint32 {
	return NewRollingChecksum(data).Sum()
}
