// Package devstate keeps a double-buffered copy of each device's packed state and
// reports which bits changed between consecutive samples.
package devstate

import (
	"errors"
	"fmt"

	"github.com/neuroplastio/neio-signal/pkg/bits"
)

type DeviceID uint16

var (
	ErrUnknownDevice = errors.New("device is not registered")
	ErrDeviceExists  = errors.New("device is already registered")
	ErrTruncated     = errors.New("state blob is larger than the device state")
	ErrInvalidSize   = errors.New("invalid state size")
)

// State is the per-device double buffer. The changed mask returned by Ingest is
// owned by State and stays valid until the next Ingest.
type State struct {
	id          DeviceID
	sizeInBytes int

	front   bits.Words
	back    bits.Words
	enabled bits.Words
	changed bits.Words

	primed bool
}

func New(id DeviceID, sizeInBytes int) (*State, error) {
	if sizeInBytes <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, sizeInBytes)
	}
	s := &State{
		id:          id,
		sizeInBytes: sizeInBytes,
		front:       bits.NewWords(sizeInBytes),
		back:        bits.NewWords(sizeInBytes),
		enabled:     bits.NewWords(sizeInBytes),
		changed:     bits.NewWords(sizeInBytes),
	}
	s.enabled.SetRange(0, sizeInBytes*8, true)
	return s, nil
}

func (s *State) ID() DeviceID {
	return s.id
}

func (s *State) SizeInBytes() int {
	return s.sizeInBytes
}

// SetEnabled includes or excludes a bit range from change detection.
func (s *State) SetEnabled(bitOffset, bitSize int, enabled bool) error {
	if bitOffset < 0 || bitSize <= 0 || bitOffset+bitSize > s.sizeInBytes*8 {
		return fmt.Errorf("bit range [%d, %d) is outside the %d byte state", bitOffset, bitOffset+bitSize, s.sizeInBytes)
	}
	s.enabled.SetRange(bitOffset, bitSize, enabled)
	return nil
}

// Ingest loads blob into the front buffer and returns the changed-bit mask.
// The first Ingest after New or Invalidate reports every enabled bit as changed.
// A blob larger than the state is truncated; the mask is still valid and
// ErrTruncated is returned alongside it.
func (s *State) Ingest(blob []byte) (bits.Words, error) {
	n := s.front.Load(blob[:min(len(blob), s.sizeInBytes)])
	if !s.primed {
		for i, word := range s.front {
			s.back[i] = ^word
		}
		s.primed = true
	}
	for i := range s.changed {
		s.changed[i] = (s.back[i] ^ s.front[i]) & s.enabled[i]
	}
	copy(s.back, s.front)
	if n < len(blob) {
		return s.changed, fmt.Errorf("%w: device %d got %d bytes, keeps %d", ErrTruncated, s.id, len(blob), n)
	}
	return s.changed, nil
}

// Invalidate makes the next Ingest bootstrap every enabled bit again.
func (s *State) Invalidate() {
	s.primed = false
}

// Front is the latest ingested state.
func (s *State) Front() bits.Words {
	return s.front
}

func (s *State) Changed() bits.Words {
	return s.changed
}

func (s *State) Enabled() bits.Words {
	return s.enabled
}

// Table maps device ids to their state buffers.
type Table struct {
	states map[DeviceID]*State
}

func NewTable() *Table {
	return &Table{
		states: make(map[DeviceID]*State),
	}
}

func (t *Table) Add(id DeviceID, sizeInBytes int) (*State, error) {
	if _, ok := t.states[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDeviceExists, id)
	}
	state, err := New(id, sizeInBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to set up device %d: %w", id, err)
	}
	t.states[id] = state
	return state, nil
}

func (t *Table) Remove(id DeviceID) bool {
	if _, ok := t.states[id]; !ok {
		return false
	}
	delete(t.states, id)
	return true
}

func (t *Table) Get(id DeviceID) (*State, bool) {
	state, ok := t.states[id]
	return state, ok
}

func (t *Table) Len() int {
	return len(t.states)
}

func (t *Table) Ingest(id DeviceID, blob []byte) (*State, bits.Words, error) {
	state, ok := t.states[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	changed, err := state.Ingest(blob)
	return state, changed, err
}
