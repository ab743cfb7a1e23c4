package devstate

import (
	"testing"

	"github.com/neuroplastio/neio-signal/pkg/bits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstIngestBootstraps(t *testing.T) {
	s, err := New(1, 5)
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(8, 4, false))

	changed, err := s.Ingest([]byte{0x01, 0x00, 0x7f, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, s.Enabled(), changed)
	assert.False(t, changed.IsSet(8))
	assert.False(t, changed.IsSet(40), "padding bits are never enabled")
}

func TestRepeatIngestIsQuiet(t *testing.T) {
	s, err := New(1, 3)
	require.NoError(t, err)
	blob := []byte{0x03, 0x10, 0xff}
	_, err = s.Ingest(blob)
	require.NoError(t, err)

	changed, err := s.Ingest(blob)
	require.NoError(t, err)
	assert.True(t, changed.IsEmpty())
}

func TestChangedBits(t *testing.T) {
	s, err := New(1, 16)
	require.NoError(t, err)
	_, err = s.Ingest(make([]byte, 16))
	require.NoError(t, err)

	blob := make([]byte, 16)
	blob[0] = 0x01
	blob[8] = 0x80
	changed, err := s.Ingest(blob)
	require.NoError(t, err)
	assert.Equal(t, bits.Words{0x01, 0x80}, changed)
	assert.Equal(t, uint64(1), s.Front().Extract(0, 1))

	// disabled bits never report changes
	require.NoError(t, s.SetEnabled(0, 1, false))
	changed, err = s.Ingest(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, bits.Words{0, 0x80}, changed)
}

func TestTruncation(t *testing.T) {
	s, err := New(1, 2)
	require.NoError(t, err)
	changed, err := s.Ingest([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrTruncated)
	require.NotNil(t, changed)
	assert.Equal(t, uint64(0x0201), s.Front()[0])
}

func TestInvalidate(t *testing.T) {
	s, err := New(1, 1)
	require.NoError(t, err)
	blob := []byte{0x55}
	_, err = s.Ingest(blob)
	require.NoError(t, err)
	s.Invalidate()
	changed, err := s.Ingest(blob)
	require.NoError(t, err)
	assert.Equal(t, s.Enabled(), changed)
}

func TestSetEnabledRange(t *testing.T) {
	s, err := New(1, 1)
	require.NoError(t, err)
	assert.Error(t, s.SetEnabled(4, 8, false))
	_, err = New(1, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestTable(t *testing.T) {
	table := NewTable()
	_, err := table.Add(3, 4)
	require.NoError(t, err)
	_, err = table.Add(3, 4)
	assert.ErrorIs(t, err, ErrDeviceExists)

	_, _, err = table.Ingest(4, []byte{1})
	assert.ErrorIs(t, err, ErrUnknownDevice)

	state, changed, err := table.Ingest(3, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, DeviceID(3), state.ID())
	assert.Equal(t, state.Enabled(), changed)

	assert.True(t, table.Remove(3))
	assert.False(t, table.Remove(3))
	assert.Equal(t, 0, table.Len())
}
