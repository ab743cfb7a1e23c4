package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	type testCase struct {
		data     []byte
		words    int
		expected Words
		copied   int
	}
	testCases := []testCase{
		{
			data:     []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			words:    1,
			expected: Words{0x0807060504030201},
			copied:   8,
		},
		{
			data:     []byte{0xff, 0x01},
			words:    2,
			expected: Words{0x01ff, 0},
			copied:   2,
		},
		{
			data:     []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			words:    1,
			expected: Words{0x0807060504030201},
			copied:   8,
		},
		{
			data:     []byte{1, 2, 3, 4, 5, 6, 7, 8, 9},
			words:    2,
			expected: Words{0x0807060504030201, 0x09},
			copied:   9,
		},
	}
	for i, tc := range testCases {
		w := make(Words, tc.words)
		for j := range w {
			w[j] = 0xdeadbeef
		}
		n := w.Load(tc.data)
		assert.Equal(t, tc.copied, n, "case %d", i)
		assert.Equal(t, tc.expected, w, "case %d", i)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	data := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x11, 0x22, 0x33}
	w := NewWords(len(data))
	require.Len(t, w, 2)
	w.Load(data)
	out := make([]byte, len(data))
	w.Bytes(out)
	assert.Equal(t, data, out)
}

func TestExtractInsert(t *testing.T) {
	type testCase struct {
		offset int
		size   int
		value  uint64
	}
	testCases := []testCase{
		{offset: 0, size: 1, value: 1},
		{offset: 3, size: 5, value: 0x15},
		{offset: 60, size: 8, value: 0xa5},
		{offset: 32, size: 32, value: 0xdeadbeef},
		{offset: 64, size: 64, value: 0x0123456789abcdef},
		{offset: 1, size: 64, value: 0xfedcba9876543210},
	}
	for _, tc := range testCases {
		w := make(Words, 3)
		w.Insert(tc.offset, tc.size, tc.value)
		assert.Equal(t, tc.value, w.Extract(tc.offset, tc.size), "offset %d size %d", tc.offset, tc.size)
		// neighbours stay untouched
		if tc.offset > 0 {
			assert.False(t, w.IsSet(tc.offset-1))
		}
		assert.False(t, w.IsSet(tc.offset+tc.size))
	}
}

func TestExtractOutOfRange(t *testing.T) {
	w := Words{^uint64(0)}
	assert.Equal(t, uint64(0), w.Extract(60, 8))
	assert.Equal(t, uint64(0), w.Extract(-1, 4))
	assert.False(t, w.IsSet(64))
	assert.False(t, w.Set(64))
}

func TestSetClear(t *testing.T) {
	w := make(Words, 2)
	assert.True(t, w.Set(70))
	assert.False(t, w.Set(70))
	assert.True(t, w.IsSet(70))
	assert.True(t, w.Clear(70))
	assert.False(t, w.Clear(70))
	assert.True(t, w.IsEmpty())

	w.SetRange(62, 4, true)
	assert.Equal(t, Words{0xc000000000000000, 0x3}, w)
	w.SetRange(63, 2, false)
	assert.Equal(t, Words{0x4000000000000000, 0x2}, w)
}

func TestStringParse(t *testing.T) {
	w, err := ParseWords("1011")
	require.NoError(t, err)
	assert.Equal(t, Words{0b1101}, w)
	parsed, err := ParseWords(w.String())
	require.NoError(t, err)
	assert.True(t, w.Equal(parsed))

	_, err = ParseWords("10x1")
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	assert.Equal(t, uint64(0), Mask(0))
	assert.Equal(t, uint64(1), Mask(1))
	assert.Equal(t, uint64(0xff), Mask(8))
	assert.Equal(t, ^uint64(0), Mask(64))
}

func TestFloat32Bits(t *testing.T) {
	for _, f := range []float32{0, 1, -1.5, 3.1415927, 1e-30} {
		assert.Equal(t, f, Float32FromBits(Float32ToBits(f)))
	}
	assert.Equal(t, float32(1), Float32FromBits(0xffffffff_3f800000))
}
