// Package demux compiles bit field descriptors into a straight-line program that
// decodes only the fields whose bits changed.
package demux

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/neuroplastio/neio-signal/pkg/bits"
)

var ErrInvalidField = errors.New("invalid field")

type opcode uint8

const (
	opBreak opcode = iota
	opExtract
)

// instruction reads ((w[word] & maskA) >> shiftA) | ((w[word+1] & maskB) << shiftB).
// maskB is zero when the field fits in one word.
type instruction struct {
	op     opcode
	next   int
	word   int
	maskA  uint64
	shiftA uint
	maskB  uint64
	shiftB uint

	source      SourceType
	destination DestinationType
	slot        int
}

// Instruction is the build-time view of a compiled field, handed to trace callbacks.
type Instruction struct {
	Index    int
	Field    Field
	Word     int
	MaskA    uint64
	ShiftA   uint
	MaskB    uint64
	ShiftB   uint
	Crossing bool
}

func (i Instruction) String() string {
	s := fmt.Sprintf("%03d extract w%d&%#016x>>%d", i.Index, i.Word, i.MaskA, i.ShiftA)
	if i.Crossing {
		s += fmt.Sprintf(" | w%d&%#016x<<%d", i.Word+1, i.MaskB, i.ShiftB)
	}
	return s + " " + i.Field.String()
}

type TraceFunc func(ins Instruction)

type buildOptions struct {
	trace TraceFunc
}

type BuildOption func(*buildOptions)

// WithTrace calls fn for every compiled instruction.
func WithTrace(fn TraceFunc) BuildOption {
	return func(o *buildOptions) {
		o.trace = fn
	}
}

type FloatResult struct {
	Slot  int
	Value float32
}

type UIntResult struct {
	Slot  int
	Value uint32
}

// Results holds the decoded fields of one Run, in declaration order per list.
// The slices are reused by the next Run.
type Results struct {
	Floats []FloatResult
	UInts  []UIntResult
}

func (r Results) Len() int {
	return len(r.Floats) + len(r.UInts)
}

type Program struct {
	code    []instruction
	words   int
	fields  int
	results Results
	skipped int
}

// Build compiles fields for a state of stateSizeInBytes. Fields are emitted in
// declaration order. Invalid descriptors or duplicate slots fail the build.
func Build(stateSizeInBytes int, fields []Field, opts ...BuildOption) (*Program, error) {
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}
	if stateSizeInBytes <= 0 {
		return nil, fmt.Errorf("%w: state size %d", ErrInvalidField, stateSizeInBytes)
	}
	stateBits := stateSizeInBytes * 8
	slots := make(map[int]int, len(fields))
	code := make([]instruction, 0, len(fields)+1)
	for i, f := range fields {
		if err := f.validate(stateBits); err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrInvalidField, i, err)
		}
		if prev, ok := slots[f.Slot]; ok {
			return nil, fmt.Errorf("%w %d: slot %d is already used by field %d", ErrInvalidField, i, f.Slot, prev)
		}
		slots[f.Slot] = i

		word := f.BitOffset / bits.WordSize
		offset := f.BitOffset % bits.WordSize
		ins := instruction{
			op:          opExtract,
			next:        i + 1,
			word:        word,
			maskA:       bits.Mask(f.BitSize) << offset,
			shiftA:      uint(offset),
			source:      f.Source,
			destination: f.Destination,
			slot:        f.Slot,
		}
		if offset+f.BitSize > bits.WordSize {
			ins.maskB = bits.Mask(offset + f.BitSize - bits.WordSize)
			ins.shiftB = uint(bits.WordSize - offset)
		}
		code = append(code, ins)
		if options.trace != nil {
			options.trace(Instruction{
				Index:    i,
				Field:    f,
				Word:     ins.word,
				MaskA:    ins.maskA,
				ShiftA:   ins.shiftA,
				MaskB:    ins.maskB,
				ShiftB:   ins.shiftB,
				Crossing: ins.maskB != 0,
			})
		}
	}
	code = append(code, instruction{op: opBreak})

	var floats, uints int
	for _, f := range fields {
		if f.Destination == DestinationUInt {
			uints++
		} else {
			floats++
		}
	}
	return &Program{
		code:   code,
		words:  bits.WordCount(stateSizeInBytes),
		fields: len(fields),
		results: Results{
			Floats: make([]FloatResult, 0, floats),
			UInts:  make([]UIntResult, 0, uints),
		},
	}, nil
}

func (p *Program) Fields() int {
	return p.fields
}

// Skipped is the number of fields skipped as unchanged by the last Run.
func (p *Program) Skipped() int {
	return p.skipped
}

// Run decodes the fields whose bits are set in changed from state.
// Both buffers must come from a state of the size the program was built for.
func (p *Program) Run(changed, state bits.Words) Results {
	p.results.Floats = p.results.Floats[:0]
	p.results.UInts = p.results.UInts[:0]
	p.skipped = 0
	if len(changed) < p.words || len(state) < p.words {
		p.skipped = p.fields
		return p.results
	}
	pc := 0
	for {
		ins := &p.code[pc]
		if ins.op == opBreak {
			return p.results
		}
		pc = ins.next
		dirty := changed[ins.word] & ins.maskA
		if ins.maskB != 0 {
			dirty |= changed[ins.word+1] & ins.maskB
		}
		if dirty == 0 {
			p.skipped++
			continue
		}
		raw := (state[ins.word] & ins.maskA) >> ins.shiftA
		if ins.maskB != 0 {
			raw |= (state[ins.word+1] & ins.maskB) << ins.shiftB
		}
		switch ins.destination {
		case DestinationFloat:
			p.results.Floats = append(p.results.Floats, FloatResult{Slot: ins.slot, Value: toFloat(ins.source, raw)})
		case DestinationUInt:
			p.results.UInts = append(p.results.UInts, UIntResult{Slot: ins.slot, Value: toUInt(ins.source, raw)})
		}
	}
}

func toFloat(source SourceType, raw uint64) float32 {
	if source == SourceFloat32 {
		return bits.Float32FromBits(raw)
	}
	return float32(raw)
}

// toUInt saturates float sources: NaN and negatives become 0.
func toUInt(source SourceType, raw uint64) uint32 {
	if source != SourceFloat32 {
		return uint32(raw)
	}
	f := bits.Float32FromBits(raw)
	switch {
	case math.IsNaN(float64(f)) || f <= 0:
		return 0
	case f >= math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(f)
	}
}

// String lists the compiled program.
func (p *Program) String() string {
	var sb strings.Builder
	for i, ins := range p.code {
		if ins.op == opBreak {
			fmt.Fprintf(&sb, "%03d break\n", i)
			continue
		}
		fmt.Fprintf(&sb, "%03d extract w%d&%#016x>>%d", i, ins.word, ins.maskA, ins.shiftA)
		if ins.maskB != 0 {
			fmt.Fprintf(&sb, " | w%d&%#016x<<%d", ins.word+1, ins.maskB, ins.shiftB)
		}
		fmt.Fprintf(&sb, " %s->%s #%d goto %d\n", ins.source, ins.destination, ins.slot, ins.next)
	}
	return sb.String()
}
