// Package ringbuf provides an append-only circular log addressed by absolute,
// monotonically increasing cursors.
package ringbuf

import "math/bits"

// Ring holds the values with absolute indexes in [tail, head).
// Storage is a power-of-two slice indexed by index&mask, so absolute indexes stay
// valid across growth.
type Ring[T any] struct {
	buf  []T
	mask uint64
	head uint64
	tail uint64
}

func New[T any](capacity int) *Ring[T] {
	capacity = roundUpPowerOfTwo(capacity)
	return &Ring[T]{
		buf:  make([]T, capacity),
		mask: uint64(capacity - 1),
	}
}

func roundUpPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Push appends v at head, doubling the storage if the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.head-r.tail == uint64(len(r.buf)) {
		r.grow()
	}
	r.buf[r.head&r.mask] = v
	r.head++
}

func (r *Ring[T]) grow() {
	buf := make([]T, len(r.buf)*2)
	mask := uint64(len(buf) - 1)
	for i := r.tail; i < r.head; i++ {
		buf[i&mask] = r.buf[i&r.mask]
	}
	r.buf = buf
	r.mask = mask
}

// PopN advances tail by n. Requests larger than Count are clamped.
func (r *Ring[T]) PopN(n int) {
	if n <= 0 {
		return
	}
	count := r.head - r.tail
	if uint64(n) > count {
		n = int(count)
	}
	var zero T
	for i := 0; i < n; i++ {
		r.buf[r.tail&r.mask] = zero
		r.tail++
	}
}

// Get returns the value at the absolute index. Indexes outside [tail, head)
// return the zero value.
func (r *Ring[T]) Get(index uint64) T {
	v, _ := r.Lookup(index)
	return v
}

func (r *Ring[T]) Lookup(index uint64) (T, bool) {
	if index < r.tail || index >= r.head {
		var zero T
		return zero, false
	}
	return r.buf[index&r.mask], true
}

func (r *Ring[T]) Count() int {
	return int(r.head - r.tail)
}

func (r *Ring[T]) Empty() bool {
	return r.head == r.tail
}

func (r *Ring[T]) Head() uint64 {
	return r.head
}

func (r *Ring[T]) Tail() uint64 {
	return r.tail
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Reset drops every value. Cursors keep increasing so indexes handed out
// earlier never alias new values.
func (r *Ring[T]) Reset() {
	r.PopN(r.Count())
}
