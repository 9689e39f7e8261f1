// Package ring implements a fixed-capacity ring buffer of float64
package ring

// Buffer is a fixed-capacity FIFO buffer of float64. Once the buffer
// is full, pushing a new value overwrites the oldest one.
type Buffer struct {
	data     []float64
	insertAt int
	size     int
}

// New returns a new ring Buffer with the given capacity
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("new: ring buffer capacity must be positive")
	}
	return &Buffer{data: make([]float64, capacity)}
}

// Push adds a value to the buffer, overwriting the oldest value if the
// buffer is at capacity
func (b *Buffer) Push(value float64) {
	b.data[b.insertAt] = value
	b.insertAt = (b.insertAt + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
}

// Len returns the number of values currently in the buffer
func (b *Buffer) Len() int {
	return b.size
}

// Capacity returns the maximum number of values the buffer can hold
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Slice returns the buffered values ordered from oldest to newest.
// The returned slice does not alias the buffer's storage.
func (b *Buffer) Slice() []float64 {
	out := make([]float64, b.size)
	if b.size < len(b.data) {
		copy(out, b.data[:b.size])
		return out
	}

	n := copy(out, b.data[b.insertAt:])
	copy(out[n:], b.data[:b.insertAt])
	return out
}
