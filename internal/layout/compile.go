// Package layout compiles a Layout into a task graph and per-device decoding
// specs ready to be loaded into a pipeline.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/iancoleman/strcase"
	"github.com/neuroplastio/neio-signal/internal/demux"
	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/pipeline"
	"github.com/neuroplastio/neio-signal/internal/taskgraph"
	"github.com/neuroplastio/neio-signal/internal/taskgraph/taskdsl"
	"github.com/neuroplastio/neio-signal/pkg/registry"
	"go.uber.org/zap"
)

var ErrInvalidLayout = errors.New("invalid layout")

const DefaultLevel = 0.5

// Device is a compiled device entry.
type Device struct {
	Spec     pipeline.DeviceSpec
	Name     string
	HID      string
	ReportID *uint8
	// Exclusive hides the device from the OS while it is read.
	Exclusive bool
	Bound     bool
	// Hash fingerprints the device's declared layout.
	Hash uint64
	// Nodes names the field nodes in slot order.
	Nodes []string
}

type Compiled struct {
	Graph   *taskgraph.Graph
	Devices []Device
	Hash    uint64
}

// OpRegistry turns parsed statements into graph tasks.
type OpRegistry = registry.Registry[taskgraph.Task, taskdsl.Statement, *taskgraph.Builder]

// NewOpRegistry registers the edge trigger operations.
func NewOpRegistry() *OpRegistry {
	ops := registry.NewRegistry[taskgraph.Task, taskdsl.Statement, *taskgraph.Builder]()
	for _, name := range []string{"rising", "rise", "falling", "fall"} {
		ops.Register(name, edgeTrigger)
	}
	return ops
}

func edgeTrigger(stmt taskdsl.Statement, b *taskgraph.Builder) (taskgraph.Task, error) {
	kind, err := taskgraph.ParseOpKind(stmt.Call.Op)
	if err != nil {
		return taskgraph.Task{}, err
	}
	inputs := stmt.Inputs()
	if len(inputs) != kind.Inputs() {
		return taskgraph.Task{}, fmt.Errorf("%s takes %d input, got %d", kind, kind.Inputs(), len(inputs))
	}
	for _, name := range stmt.NamedParams() {
		if name != "level" {
			return taskgraph.Task{}, fmt.Errorf("unknown parameter %q", name)
		}
	}
	level, ok := stmt.Param("level", 0)
	if !ok {
		level = DefaultLevel
	}
	task := taskgraph.Task{
		Kind:   kind,
		Config: b.AddConfig(taskgraph.Config{Level: float32(level)}),
	}
	for _, name := range inputs {
		id, ok := b.Lookup(NodeName(name))
		if !ok {
			return taskgraph.Task{}, fmt.Errorf("unknown node %q", name)
		}
		task.Inputs = append(task.Inputs, id)
	}
	return task, nil
}

// NodeName normalizes every dot separated segment of name to snake_case.
func NodeName(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = strcase.ToSnake(part)
	}
	return strings.Join(parts, ".")
}

type compiler struct {
	log *zap.Logger
	ops *OpRegistry
}

type CompileOption func(*compiler)

// WithOps replaces the default operation registry.
func WithOps(ops *OpRegistry) CompileOption {
	return func(c *compiler) {
		c.ops = ops
	}
}

// Compile validates the layout and builds its graph. Every error is a
// configuration error: nothing is built from a partially valid layout.
func Compile(log *zap.Logger, l Layout, opts ...CompileOption) (*Compiled, error) {
	c := &compiler{log: log, ops: NewOpRegistry()}
	for _, opt := range opts {
		opt(c)
	}
	b := taskgraph.NewBuilder(log)
	if l.Capacity > 0 {
		b.WithCapacity(l.Capacity)
	}

	var errs []error
	compiled := &Compiled{Devices: make([]Device, 0, len(l.Devices))}
	ids := make(map[uint16]string, len(l.Devices))
	for i, dc := range l.Devices {
		if prev, ok := ids[dc.ID]; ok {
			errs = append(errs, fmt.Errorf("device %d (%s): id is already used by %s", dc.ID, dc.Name, prev))
			continue
		}
		ids[dc.ID] = dc.Name
		dev, err := c.device(b, dc)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", i, err))
			continue
		}
		compiled.Devices = append(compiled.Devices, dev)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, errors.Join(errs...))
	}

	for i, src := range l.Tasks {
		if err := c.task(b, src); err != nil {
			errs = append(errs, fmt.Errorf("task %d %q: %w", i, src, err))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, errors.Join(errs...))
	}

	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}
	compiled.Graph = g
	compiled.Hash, err = Hash(l)
	if err != nil {
		return nil, err
	}
	log.Debug("Layout compiled",
		zap.Int("devices", len(compiled.Devices)),
		zap.Int("nodes", g.Len()),
		zap.Int("tasks", len(g.Tasks())),
		zap.Uint64("hash", compiled.Hash),
	)
	return compiled, nil
}

func (c *compiler) device(b *taskgraph.Builder, dc DeviceConfig) (Device, error) {
	name := strcase.ToSnake(dc.Name)
	if name == "" {
		return Device{}, fmt.Errorf("device %d has no name", dc.ID)
	}
	if dc.StateSize <= 0 {
		return Device{}, fmt.Errorf("%s: state size must be positive, got %d", name, dc.StateSize)
	}
	hash, err := Hash(dc)
	if err != nil {
		return Device{}, err
	}
	dev := Device{
		Spec: pipeline.DeviceSpec{
			ID:        devstate.DeviceID(dc.ID),
			StateSize: dc.StateSize,
			Fields:    make([]demux.Field, 0, len(dc.Fields)),
		},
		Name:      name,
		HID:       dc.HID,
		ReportID:  dc.ReportID,
		Exclusive: dc.Exclusive,
		Bound:     dc.bound(),
		Hash:      hash,
		Nodes:     make([]string, 0, len(dc.Fields)),
	}
	for slot, fc := range dc.Fields {
		source, err := demux.ParseSourceType(fc.Source)
		if err != nil {
			return Device{}, fmt.Errorf("%s field %q: %w", name, fc.Name, err)
		}
		destination, err := demux.ParseDestinationType(fc.Destination)
		if err != nil {
			return Device{}, fmt.Errorf("%s field %q: %w", name, fc.Name, err)
		}
		fieldName := strcase.ToSnake(fc.Name)
		if fieldName == "" {
			return Device{}, fmt.Errorf("%s field %d has no name", name, slot)
		}
		dev.Spec.Fields = append(dev.Spec.Fields, demux.Field{
			BitOffset:   fc.offset(),
			BitSize:     fc.BitSize,
			Source:      source,
			Destination: destination,
			Slot:        slot,
		})
		if !fc.enabled() {
			dev.Spec.Disabled = append(dev.Spec.Disabled, pipeline.BitRange{Offset: fc.offset(), Size: fc.BitSize})
		}
		dev.Nodes = append(dev.Nodes, name+"."+fieldName)
	}
	// catches bad descriptors before they reach a pipeline
	if _, err := demux.Build(dc.StateSize, dev.Spec.Fields); err != nil {
		return Device{}, fmt.Errorf("%s: %w", name, err)
	}
	if !dev.Bound || len(dev.Nodes) == 0 {
		return dev, nil
	}
	base := taskgraph.NoNode
	for slot, node := range dev.Nodes {
		id := b.AddNode(node, dc.Fields[slot].Initial)
		if slot == 0 {
			base = id
		}
	}
	b.BindDevice(dev.Spec.ID, base, len(dev.Nodes))
	return dev, nil
}

func (c *compiler) task(b *taskgraph.Builder, src string) error {
	stmt, err := taskdsl.ParseStatement(src)
	if err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}
	op := strings.ToLower(stmt.Call.Op)
	if !c.ops.Has(op) {
		return fmt.Errorf("unknown operation %q (known: %s)", stmt.Call.Op, strings.Join(c.ops.Keys(), ", "))
	}
	task, err := c.ops.New(op, stmt, b)
	if err != nil {
		return err
	}
	output := NodeName(stmt.Output)
	if _, ok := b.Lookup(output); ok {
		return fmt.Errorf("node %q is already declared", output)
	}
	task.Output = b.AddNode(output, 0)
	b.AddTask(task)
	return nil
}

// Hash fingerprints any JSON encodable value with xxhash.
func Hash(v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal layout: %w", err)
	}
	return xxhash.Sum64(data), nil
}

// NewPipeline builds a pipeline over the compiled graph with every device added.
// The graph is owned by the returned pipeline; compile again for a fresh one.
func (c *Compiled) NewPipeline(log *zap.Logger, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	p := pipeline.New(log, c.Graph, opts...)
	for _, dev := range c.Devices {
		if err := p.AddDevice(dev.Spec); err != nil {
			return nil, fmt.Errorf("failed to add device %s: %w", dev.Name, err)
		}
	}
	return p, nil
}

// Device returns the compiled device with the given id.
func (c *Compiled) Device(id devstate.DeviceID) (Device, bool) {
	for _, dev := range c.Devices {
		if dev.Spec.ID == id {
			return dev, true
		}
	}
	return Device{}, false
}
