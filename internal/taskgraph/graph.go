// Package taskgraph evaluates a topologically ordered list of derivation tasks over
// an array of step function nodes.
package taskgraph

import (
	"errors"
	"fmt"

	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/pkg/stepfn"
)

type Graph struct {
	nodes   []*stepfn.Function
	names   []string
	initial []float32
	derived []bool
	index   map[string]NodeID

	tasks   []Task
	configs []Config

	deviceOffsets []NodeID
	deviceFields  []int
	outputs       []NodeID
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) Node(id NodeID) *stepfn.Function {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

func (g *Graph) Name(id NodeID) string {
	if id < 0 || int(id) >= len(g.names) {
		return ""
	}
	return g.names[id]
}

func (g *Graph) Lookup(name string) (NodeID, bool) {
	id, ok := g.index[name]
	return id, ok
}

func (g *Graph) IsDerived(id NodeID) bool {
	return id >= 0 && int(id) < len(g.derived) && g.derived[id]
}

func (g *Graph) Tasks() []Task {
	return g.tasks
}

func (g *Graph) Configs() []Config {
	return g.configs
}

// Outputs lists the task output nodes in task order.
func (g *Graph) Outputs() []NodeID {
	return g.outputs
}

// DeviceOffset returns the first node of the device's fields, or NoNode when the
// device is not wired.
func (g *Graph) DeviceOffset(id devstate.DeviceID) (NodeID, int) {
	if int(id) >= len(g.deviceOffsets) {
		return NoNode, 0
	}
	return g.deviceOffsets[id], g.deviceFields[id]
}

// Compute runs every task whose inputs are dirty, in order. Rejected samples are
// collected and returned after all tasks ran.
func (g *Graph) Compute() error {
	var errs []error
	for i := range g.tasks {
		task := &g.tasks[i]
		if !g.anyDirty(task.Inputs) {
			continue
		}
		var err error
		switch task.Kind {
		case OpRisingEdge:
			err = g.edgeTrigger(task, risingEdge)
		case OpFallingEdge:
			err = g.edgeTrigger(task, fallingEdge)
		default:
			err = fmt.Errorf("unknown operation %s", task.Kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("task %d (%s): %w", i, g.names[task.Output], err))
		}
	}
	return errors.Join(errs...)
}

func (g *Graph) anyDirty(inputs []NodeID) bool {
	for _, in := range inputs {
		if g.nodes[in].IsDirty() {
			return true
		}
	}
	return false
}

func risingEdge(prev, value, level float32) bool {
	return value >= level && prev < level
}

func fallingEdge(prev, value, level float32) bool {
	return value < level && prev >= level
}

func (g *Graph) edgeTrigger(task *Task, fires func(prev, value, level float32) bool) error {
	in := g.nodes[task.Inputs[0]]
	out := g.nodes[task.Output]
	level := g.configs[task.Config].Level
	run, dirty := in.ResolveDirty()
	if !dirty {
		return nil
	}
	prev := run.Before
	for i := 0; i < run.Count; i++ {
		sample := in.Get(run.Start + uint64(i))
		if fires(prev, sample.Value, level) {
			if err := out.Record(sample.Timestamp, 1); err != nil {
				return err
			}
		}
		prev = sample.Value
	}
	return nil
}

// ClearAll marks every node clear. Call once per cycle after consumers read.
func (g *Graph) ClearAll() {
	for _, node := range g.nodes {
		node.MarkAsClear()
	}
}

// DropAllOlderThan applies retention to every node and returns the number of
// dropped samples.
func (g *Graph) DropAllOlderThan(cutoff int64) int {
	dropped := 0
	for _, node := range g.nodes {
		dropped += node.DropAllOlderThan(cutoff)
	}
	return dropped
}

// Retained is the number of samples held across all nodes.
func (g *Graph) Retained() int {
	n := 0
	for _, node := range g.nodes {
		n += node.Count()
	}
	return n
}

// Reset empties every node.
func (g *Graph) Reset() {
	for i, node := range g.nodes {
		node.Reset(g.initial[i])
	}
}
