package taskgraph

import (
	"errors"
	"fmt"

	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/pkg/stepfn"
	"go.uber.org/zap"
)

var (
	ErrInvalidGraph    = errors.New("invalid graph")
	ErrDeviceCollision = errors.New("device is already bound")
)

const defaultNodeCapacity = 64

type binding struct {
	device devstate.DeviceID
	base   NodeID
	count  int
}

// Builder collects nodes, device bindings and tasks. Errors are accumulated and
// reported by Validate and Build.
type Builder struct {
	log      *zap.Logger
	capacity int

	names   []string
	initial []float32
	index   map[string]NodeID

	configs  []Config
	tasks    []Task
	bindings []binding

	errors []error
}

func NewBuilder(log *zap.Logger) *Builder {
	return &Builder{
		log:      log,
		capacity: defaultNodeCapacity,
		index:    make(map[string]NodeID),
	}
}

// WithCapacity sets the preallocated sample capacity of every node.
func (b *Builder) WithCapacity(capacity int) *Builder {
	b.capacity = capacity
	return b
}

func (b *Builder) AddNode(name string, initial float32) NodeID {
	if _, ok := b.index[name]; ok {
		b.errors = append(b.errors, fmt.Errorf("node %q is declared twice", name))
		return b.index[name]
	}
	id := NodeID(len(b.names))
	b.names = append(b.names, name)
	b.initial = append(b.initial, initial)
	b.index[name] = id
	return id
}

func (b *Builder) Lookup(name string) (NodeID, bool) {
	id, ok := b.index[name]
	return id, ok
}

func (b *Builder) AddConfig(cfg Config) int {
	for i, existing := range b.configs {
		if existing == cfg {
			return i
		}
	}
	b.configs = append(b.configs, cfg)
	return len(b.configs) - 1
}

// BindDevice wires count consecutive nodes starting at base to the device's fields.
func (b *Builder) BindDevice(id devstate.DeviceID, base NodeID, count int) {
	b.bindings = append(b.bindings, binding{device: id, base: base, count: count})
}

func (b *Builder) AddTask(task Task) {
	b.tasks = append(b.tasks, task)
}

func (b *Builder) Validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(b.errors...))
	}
	nodeCount := NodeID(len(b.names))
	inRange := func(id NodeID) bool {
		return id >= 0 && id < nodeCount
	}

	leafOwner := make(map[NodeID]devstate.DeviceID)
	devices := make(map[devstate.DeviceID]struct{})
	for _, bind := range b.bindings {
		if _, ok := devices[bind.device]; ok {
			return fmt.Errorf("%w: %w: %d", ErrInvalidGraph, ErrDeviceCollision, bind.device)
		}
		devices[bind.device] = struct{}{}
		if bind.count <= 0 || !inRange(bind.base) || !inRange(bind.base+NodeID(bind.count-1)) {
			return fmt.Errorf("%w: device %d binds nodes outside the graph", ErrInvalidGraph, bind.device)
		}
		for id := bind.base; id < bind.base+NodeID(bind.count); id++ {
			if owner, ok := leafOwner[id]; ok {
				return fmt.Errorf("%w: node %q is bound to devices %d and %d", ErrInvalidGraph, b.names[id], owner, bind.device)
			}
			leafOwner[id] = bind.device
		}
	}

	producer := make(map[NodeID]int, len(b.tasks))
	for i, task := range b.tasks {
		if !inRange(task.Output) {
			return fmt.Errorf("%w: task %d writes unknown node %d", ErrInvalidGraph, i, task.Output)
		}
		if prev, ok := producer[task.Output]; ok {
			return fmt.Errorf("%w: node %q is written by tasks %d and %d", ErrInvalidGraph, b.names[task.Output], prev, i)
		}
		if _, ok := leafOwner[task.Output]; ok {
			return fmt.Errorf("%w: task %d writes device node %q", ErrInvalidGraph, i, b.names[task.Output])
		}
		producer[task.Output] = i
	}

	for i, task := range b.tasks {
		want := task.Kind.Inputs()
		if want == 0 {
			return fmt.Errorf("%w: task %d has unknown operation %s", ErrInvalidGraph, i, task.Kind)
		}
		if len(task.Inputs) != want {
			return fmt.Errorf("%w: task %d (%s) needs %d inputs, got %d", ErrInvalidGraph, i, task.Kind, want, len(task.Inputs))
		}
		if task.Config < 0 || task.Config >= len(b.configs) {
			return fmt.Errorf("%w: task %d references unknown config %d", ErrInvalidGraph, i, task.Config)
		}
		for _, in := range task.Inputs {
			if !inRange(in) {
				return fmt.Errorf("%w: task %d reads unknown node %d", ErrInvalidGraph, i, in)
			}
			// inputs must be final before the task runs
			if j, ok := producer[in]; ok && j >= i {
				return fmt.Errorf("%w: task %d reads %q before task %d writes it", ErrInvalidGraph, i, b.names[in], j)
			}
		}
	}
	return nil
}

func (b *Builder) Build() (*Graph, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		nodes:   make([]*stepfn.Function, len(b.names)),
		names:   append([]string(nil), b.names...),
		initial: append([]float32(nil), b.initial...),
		derived: make([]bool, len(b.names)),
		index:   make(map[string]NodeID, len(b.names)),
		configs: append([]Config(nil), b.configs...),
		tasks:   make([]Task, len(b.tasks)),
		outputs: make([]NodeID, len(b.tasks)),
	}
	for i, name := range b.names {
		g.nodes[i] = stepfn.New(b.capacity, b.initial[i])
		g.index[name] = NodeID(i)
	}
	for i, task := range b.tasks {
		task.Inputs = append([]NodeID(nil), task.Inputs...)
		g.tasks[i] = task
		g.outputs[i] = task.Output
		g.derived[task.Output] = true
	}
	maxDevice := -1
	for _, bind := range b.bindings {
		maxDevice = max(maxDevice, int(bind.device))
	}
	g.deviceOffsets = make([]NodeID, maxDevice+1)
	g.deviceFields = make([]int, maxDevice+1)
	for i := range g.deviceOffsets {
		g.deviceOffsets[i] = NoNode
	}
	for _, bind := range b.bindings {
		g.deviceOffsets[bind.device] = bind.base
		g.deviceFields[bind.device] = bind.count
	}
	b.log.Debug("Graph built",
		zap.Int("nodes", len(g.nodes)),
		zap.Int("tasks", len(g.tasks)),
		zap.Int("devices", len(b.bindings)),
	)
	return g, nil
}
