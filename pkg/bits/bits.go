package bits

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const WordSize = 64

// Words is a packed little-endian bit buffer stored as 64-bit words.
// Bit n lives in word n/64 at position n%64.
type Words []uint64

func NewWords(sizeInBytes int) Words {
	return make(Words, WordCount(sizeInBytes))
}

// WordCount returns the number of 64-bit words needed to hold sizeInBytes.
func WordCount(sizeInBytes int) int {
	return (sizeInBytes + 7) / 8
}

// Mask returns a right-aligned mask of size ones. Sizes above 64 saturate.
func Mask(size int) uint64 {
	if size >= WordSize {
		return math.MaxUint64
	}
	if size <= 0 {
		return 0
	}
	return (uint64(1) << size) - 1
}

// Load copies data into w as little-endian words and zeroes the remainder.
// It returns the number of bytes copied; bytes beyond w's capacity are dropped.
func (w Words) Load(data []byte) int {
	n := min(len(data), len(w)*8)
	full := n / 8
	for i := 0; i < full; i++ {
		w[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	rest := n % 8
	if full < len(w) {
		var tail [8]byte
		copy(tail[:], data[full*8:full*8+rest])
		w[full] = binary.LittleEndian.Uint64(tail[:])
		clear(w[full+1:])
	}
	return n
}

// Bytes encodes w into dst as little-endian bytes, truncated to len(dst).
func (w Words) Bytes(dst []byte) {
	var buf [8]byte
	for i, word := range w {
		if i*8 >= len(dst) {
			return
		}
		binary.LittleEndian.PutUint64(buf[:], word)
		copy(dst[i*8:], buf[:])
	}
}

func (w Words) IsSet(bit int) bool {
	if bit < 0 || bit >= len(w)*WordSize {
		return false
	}
	return w[bit/WordSize]&(1<<(bit%WordSize)) != 0
}

func (w Words) Set(bit int) bool {
	if bit < 0 || bit >= len(w)*WordSize {
		return false
	}
	changed := w[bit/WordSize]&(1<<(bit%WordSize)) == 0
	w[bit/WordSize] |= 1 << (bit % WordSize)
	return changed
}

func (w Words) Clear(bit int) bool {
	if bit < 0 || bit >= len(w)*WordSize {
		return false
	}
	changed := w[bit/WordSize]&(1<<(bit%WordSize)) != 0
	w[bit/WordSize] &^= 1 << (bit % WordSize)
	return changed
}

// SetRange sets or clears size bits starting at offset.
func (w Words) SetRange(offset, size int, value bool) {
	for bit := offset; bit < offset+size; bit++ {
		if value {
			w.Set(bit)
		} else {
			w.Clear(bit)
		}
	}
}

// Extract reads size (<= 64) bits starting at offset, crossing word boundaries if needed.
func (w Words) Extract(offset, size int) uint64 {
	if size <= 0 || offset < 0 || offset+size > len(w)*WordSize {
		return 0
	}
	idx := offset / WordSize
	shift := offset % WordSize
	value := w[idx] >> shift
	if shift+size > WordSize {
		value |= w[idx+1] << (WordSize - shift)
	}
	return value & Mask(size)
}

// Insert writes the low size bits of value starting at offset.
func (w Words) Insert(offset, size int, value uint64) {
	if size <= 0 || offset < 0 || offset+size > len(w)*WordSize {
		return
	}
	value &= Mask(size)
	idx := offset / WordSize
	shift := offset % WordSize
	w[idx] = w[idx]&^(Mask(size)<<shift) | value<<shift
	if shift+size > WordSize {
		spill := shift + size - WordSize
		w[idx+1] = w[idx+1]&^Mask(spill) | value>>(WordSize-shift)
	}
}

func (w Words) IsEmpty() bool {
	for _, word := range w {
		if word != 0 {
			return false
		}
	}
	return true
}

func (w Words) Equal(other Words) bool {
	if len(w) != len(other) {
		return false
	}
	for i, word := range w {
		if word != other[i] {
			return false
		}
	}
	return true
}

func (w Words) Clone() Words {
	clone := make(Words, len(w))
	copy(clone, w)
	return clone
}

// String renders words as space separated binary, least significant bit first,
// so the output reads in the same order as bit offsets.
func (w Words) String() string {
	parts := make([]string, len(w))
	for i, word := range w {
		var sb strings.Builder
		sb.Grow(WordSize)
		for bit := 0; bit < WordSize; bit++ {
			if word&(1<<bit) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		parts[i] = sb.String()
	}
	return strings.Join(parts, " ")
}

// ParseWords parses the String representation. Words shorter than 64 characters
// are zero padded on the high end.
func ParseWords(s string) (Words, error) {
	fields := strings.Fields(s)
	w := make(Words, len(fields))
	for i, field := range fields {
		if len(field) > WordSize {
			return nil, fmt.Errorf("word %d is longer than %d bits", i, WordSize)
		}
		for bit, c := range field {
			switch c {
			case '1':
				w[i] |= 1 << bit
			case '0':
			default:
				return nil, errors.New("invalid bit value " + strconv.QuoteRune(c))
			}
		}
	}
	return w, nil
}

// Float32FromBits reinterprets the low 32 bits of raw as an IEEE-754 binary32.
func Float32FromBits(raw uint64) float32 {
	return math.Float32frombits(uint32(raw))
}

// Float32ToBits returns the IEEE-754 binary32 bit pattern of f.
func Float32ToBits(f float32) uint64 {
	return uint64(math.Float32bits(f))
}
