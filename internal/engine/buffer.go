package engine

// DefaultOutputLines is the number of lines retained per project.
const DefaultOutputLines = 1000

// OutputBuffer is a FIFO of output lines capped at a fixed size; the oldest
// lines are evicted first. It is not safe for concurrent use; the Supervisor
// guards every buffer with its own mutex.
type OutputBuffer struct {
	limit int
	ring  []string
	start int
}

// NewOutputBuffer returns an empty buffer holding at most limit lines. A
// non-positive limit selects DefaultOutputLines.
func NewOutputBuffer(limit int) *OutputBuffer {
	if limit <= 0 {
		limit = DefaultOutputLines
	}
	return &OutputBuffer{limit: limit}
}

// Append adds lines in order, evicting the oldest once the cap is reached.
func (b *OutputBuffer) Append(lines ...string) {
	for _, line := range lines {
		if len(b.ring) < b.limit {
			b.ring = append(b.ring, line)
			continue
		}
		b.ring[b.start] = line
		b.start = (b.start + 1) % b.limit
	}
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *OutputBuffer) Lines() []string {
	out := make([]string, 0, len(b.ring))
	out = append(out, b.ring[b.start:]...)
	return append(out, b.ring[:b.start]...)
}

// Len reports the number of buffered lines.
func (b *OutputBuffer) Len() int {
	return len(b.ring)
}

// Limit reports the buffer capacity.
func (b *OutputBuffer) Limit() int {
	return b.limit
}

// Reset empties the buffer.
func (b *OutputBuffer) Reset() {
	clear(b.ring)
	b.ring = b.ring[:0]
	b.start = 0
}
