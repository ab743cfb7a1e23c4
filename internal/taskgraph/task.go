package taskgraph

import (
	"fmt"
	"strings"
)

type NodeID int

// NoNode marks a device that is not wired into the graph.
const NoNode NodeID = -1

type OpKind uint8

const (
	OpRisingEdge OpKind = iota + 1
	OpFallingEdge
)

func (k OpKind) String() string {
	switch k {
	case OpRisingEdge:
		return "rising"
	case OpFallingEdge:
		return "falling"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

func ParseOpKind(s string) (OpKind, error) {
	switch strings.ToLower(s) {
	case "rising", "rise":
		return OpRisingEdge, nil
	case "falling", "fall":
		return OpFallingEdge, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

// Inputs is the number of input nodes the operation reads.
func (k OpKind) Inputs() int {
	switch k {
	case OpRisingEdge, OpFallingEdge:
		return 1
	default:
		return 0
	}
}

// Config is a shared per-operation configuration entry.
type Config struct {
	Level float32
}

// Task derives Output from Inputs. Tasks are immutable once the graph is built.
type Task struct {
	Kind   OpKind
	Inputs []NodeID
	Output NodeID
	Config int
}

func (t Task) String() string {
	inputs := make([]string, len(t.Inputs))
	for i, in := range t.Inputs {
		inputs[i] = fmt.Sprintf("n%d", in)
	}
	return fmt.Sprintf("n%d = %s(%s) cfg%d", t.Output, t.Kind, strings.Join(inputs, ", "), t.Config)
}
