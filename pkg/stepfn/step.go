// Package stepfn implements a right-continuous, timestamped scalar signal.
//
// A Function f(t) equals the value of the latest sample whose timestamp is <= t, or
// the value before the first sample when no such sample is retained. Samples appended
// since the last MarkAsClear form the dirty run that consumers read within a cycle.
package stepfn

import (
	"errors"
	"fmt"
	"sort"

	"github.com/neuroplastio/neio-signal/pkg/ringbuf"
)

var ErrOutOfOrder = errors.New("sample timestamp is older than the latest sample")

type Sample struct {
	Timestamp int64
	Value     float32
}

type Function struct {
	timestamps *ringbuf.Ring[int64]
	values     *ringbuf.Ring[float32]

	earliest        float32
	latestValue     float32
	latestTimestamp int64
	recorded        bool

	dirty      bool
	firstDirty uint64
}

// DirtyRun describes samples appended since the last MarkAsClear.
// Before is the value of the function immediately before Start.
type DirtyRun struct {
	Before float32
	Start  uint64
	Count  int
}

func New(capacity int, initial float32) *Function {
	return &Function{
		timestamps:  ringbuf.New[int64](capacity),
		values:      ringbuf.New[float32](capacity),
		earliest:    initial,
		latestValue: initial,
	}
}

// Record appends a sample. Timestamps must not decrease.
func (f *Function) Record(timestamp int64, value float32) error {
	if f.recorded && timestamp < f.latestTimestamp {
		return fmt.Errorf("%w: %d < %d", ErrOutOfOrder, timestamp, f.latestTimestamp)
	}
	if !f.dirty {
		f.firstDirty = f.timestamps.Head()
		f.dirty = true
	}
	f.timestamps.Push(timestamp)
	f.values.Push(value)
	f.latestTimestamp = timestamp
	f.latestValue = value
	f.recorded = true
	return nil
}

// ResolveDirty returns the dirty run. When the function is clean, the run is
// empty and Before equals the latest value.
func (f *Function) ResolveDirty() (DirtyRun, bool) {
	if !f.dirty {
		return DirtyRun{Before: f.latestValue, Start: f.timestamps.Head()}, false
	}
	before := f.earliest
	if f.firstDirty > f.values.Tail() {
		before = f.values.Get(f.firstDirty - 1)
	}
	return DirtyRun{
		Before: before,
		Start:  f.firstDirty,
		Count:  int(f.timestamps.Head() - f.firstDirty),
	}, true
}

func (f *Function) MarkAsClear() {
	f.dirty = false
}

func (f *Function) IsDirty() bool {
	return f.dirty
}

// DropAllOlderThan discards samples older than cutoff that precede the dirty run.
// Each dropped sample's value becomes the value before the first retained sample.
func (f *Function) DropAllOlderThan(cutoff int64) int {
	dropped := 0
	for !f.timestamps.Empty() {
		tail := f.timestamps.Tail()
		if f.dirty && tail >= f.firstDirty {
			break
		}
		if f.timestamps.Get(tail) >= cutoff {
			break
		}
		f.earliest = f.values.Get(tail)
		f.timestamps.PopN(1)
		f.values.PopN(1)
		dropped++
	}
	return dropped
}

// Get returns the sample at an absolute index, or the zero Sample when the index
// is no longer (or not yet) retained.
func (f *Function) Get(index uint64) Sample {
	return Sample{
		Timestamp: f.timestamps.Get(index),
		Value:     f.values.Get(index),
	}
}

func (f *Function) Count() int {
	return f.timestamps.Count()
}

// Tail is the absolute index of the oldest retained sample.
func (f *Function) Tail() uint64 {
	return f.timestamps.Tail()
}

func (f *Function) LatestTimestamp() int64 {
	return f.latestTimestamp
}

func (f *Function) LatestValue() float32 {
	return f.latestValue
}

// Earliest is the value attributed to any time before the oldest retained sample.
func (f *Function) Earliest() float32 {
	return f.earliest
}

// ChangedSince reports whether a sample was recorded at or after timestamp.
func (f *Function) ChangedSince(timestamp int64) bool {
	return f.recorded && f.latestTimestamp >= timestamp
}

// ValueAt evaluates the function at t over the retained samples.
func (f *Function) ValueAt(t int64) float32 {
	tail := f.timestamps.Tail()
	n := f.timestamps.Count()
	// first sample strictly after t
	i := sort.Search(n, func(i int) bool {
		return f.timestamps.Get(tail+uint64(i)) > t
	})
	if i == 0 {
		return f.earliest
	}
	return f.values.Get(tail + uint64(i-1))
}

// Reset empties the function and restores the initial value.
func (f *Function) Reset(initial float32) {
	f.timestamps.Reset()
	f.values.Reset()
	f.earliest = initial
	f.latestValue = initial
	f.latestTimestamp = 0
	f.recorded = false
	f.dirty = false
}
