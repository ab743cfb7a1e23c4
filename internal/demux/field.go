package demux

import (
	"fmt"
	"strings"
)

type SourceType uint8

const (
	// SourceUnsigned interprets the bits as an unsigned integer.
	SourceUnsigned SourceType = iota
	// SourceFloat32 reinterprets 32 bits as an IEEE-754 binary32.
	SourceFloat32
)

func (s SourceType) String() string {
	switch s {
	case SourceUnsigned:
		return "bits"
	case SourceFloat32:
		return "float32"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(s) {
	case "", "bits", "unsigned", "uint":
		return SourceUnsigned, nil
	case "float32", "f32":
		return SourceFloat32, nil
	default:
		return 0, fmt.Errorf("unknown source type %q", s)
	}
}

type DestinationType uint8

const (
	DestinationFloat DestinationType = iota
	DestinationUInt
)

func (d DestinationType) String() string {
	switch d {
	case DestinationFloat:
		return "float"
	case DestinationUInt:
		return "uint"
	default:
		return fmt.Sprintf("destination(%d)", uint8(d))
	}
}

func ParseDestinationType(s string) (DestinationType, error) {
	switch strings.ToLower(s) {
	case "", "float":
		return DestinationFloat, nil
	case "uint":
		return DestinationUInt, nil
	default:
		return 0, fmt.Errorf("unknown destination type %q", s)
	}
}

// Field describes one bit field of a packed device state.
type Field struct {
	BitOffset   int
	BitSize     int
	Source      SourceType
	Destination DestinationType
	// Slot identifies the field in the output lists.
	Slot int
}

func (f Field) String() string {
	return fmt.Sprintf("[%d:%d] %s->%s #%d", f.BitOffset, f.BitOffset+f.BitSize, f.Source, f.Destination, f.Slot)
}

func (f Field) validate(stateBits int) error {
	if f.BitSize <= 0 || f.BitSize > 64 {
		return fmt.Errorf("bit size %d is outside 1..64", f.BitSize)
	}
	if f.BitOffset < 0 || f.BitOffset+f.BitSize > stateBits {
		return fmt.Errorf("bit range [%d, %d) is outside the %d bit state", f.BitOffset, f.BitOffset+f.BitSize, stateBits)
	}
	if f.Slot < 0 {
		return fmt.Errorf("negative slot %d", f.Slot)
	}
	switch f.Source {
	case SourceUnsigned:
	case SourceFloat32:
		if f.BitSize != 32 {
			return fmt.Errorf("float32 source needs 32 bits, got %d", f.BitSize)
		}
	default:
		return fmt.Errorf("unknown source type %d", f.Source)
	}
	switch f.Destination {
	case DestinationFloat, DestinationUInt:
	default:
		return fmt.Errorf("unknown destination type %d", f.Destination)
	}
	return nil
}
