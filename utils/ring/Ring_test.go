package ring_test

import (
	"testing"

	"github.com/samuelfneumann/goppo/utils/ring"
)

// TestBufferPartialFill ensures values come back in insertion order
// before the buffer reaches capacity
func TestBufferPartialFill(t *testing.T) {
	b := ring.New(5)
	b.Push(1)
	b.Push(2)
	b.Push(3)

	if b.Len() != 3 {
		t.Errorf("len: \n\twant(3)\n\thave(%v)", b.Len())
	}
	if b.Capacity() != 5 {
		t.Errorf("capacity: \n\twant(5)\n\thave(%v)", b.Capacity())
	}

	want := []float64{1, 2, 3}
	for i, val := range b.Slice() {
		if val != want[i] {
			t.Errorf("slice %v: \n\twant(%v)\n\thave(%v)", i, want[i],
				val)
		}
	}
}

// TestBufferOverwrite ensures that pushing past capacity drops the
// oldest values and keeps oldest-to-newest ordering
func TestBufferOverwrite(t *testing.T) {
	b := ring.New(3)
	for i := 1; i <= 5; i++ {
		b.Push(float64(i))
	}

	if b.Len() != 3 {
		t.Errorf("len: \n\twant(3)\n\thave(%v)", b.Len())
	}

	want := []float64{3, 4, 5}
	got := b.Slice()
	if len(got) != len(want) {
		t.Fatalf("slice length: \n\twant(%v)\n\thave(%v)", len(want),
			len(got))
	}
	for i, val := range got {
		if val != want[i] {
			t.Errorf("slice %v: \n\twant(%v)\n\thave(%v)", i, want[i],
				val)
		}
	}
}

// TestBufferSliceDoesNotAlias ensures mutating the returned slice does
// not affect the buffer
func TestBufferSliceDoesNotAlias(t *testing.T) {
	b := ring.New(2)
	b.Push(1)
	b.Push(2)

	s := b.Slice()
	s[0] = 100

	if b.Slice()[0] != 1 {
		t.Error("slice should not alias the buffer's storage")
	}
}

// TestNewPanicsOnIllegalCapacity ensures construction panics on a
// non-positive capacity
func TestNewPanicsOnIllegalCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("new: expected panic for capacity 0")
		}
	}()
	ring.New(0)
}
