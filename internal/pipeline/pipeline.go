// Package pipeline runs one processing cycle per frame: raw device state is
// diffed, changed fields are decoded into graph nodes, tasks derive new samples,
// consumers drain them, and history outside the retention window is dropped.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/neuroplastio/neio-signal/internal/demux"
	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/frameclock"
	"github.com/neuroplastio/neio-signal/internal/taskgraph"
	"github.com/neuroplastio/neio-signal/pkg/bus"
	"github.com/neuroplastio/neio-signal/pkg/stepfn"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrSlotOutOfRange = errors.New("field slot is outside the device's bound nodes")

type Diagnostics func(err error)

// EventBus carries derived events keyed by node name.
type EventBus = bus.Bus[string, DerivedEvent]

type options struct {
	diagnostics Diagnostics
	metrics     *Metrics
	bus         *EventBus
}

type Option func(*options)

// WithDiagnostics receives every runtime anomaly.
func WithDiagnostics(fn Diagnostics) Option {
	return func(o *options) {
		o.diagnostics = fn
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithBus publishes derived events after each frame.
func WithBus(b *EventBus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// DeviceSpec describes how a device's state is decoded.
type DeviceSpec struct {
	ID        devstate.DeviceID
	StateSize int
	Fields    []demux.Field
	// Disabled bit ranges are excluded from change detection.
	Disabled []BitRange
}

type BitRange struct {
	Offset int
	Size   int
}

type device struct {
	state   *devstate.State
	program *demux.Program
	base    taskgraph.NodeID
	// latest is the timestamp of the last accepted state event.
	latest int64
	seen   bool
}

type Stats struct {
	Frames        uint64 `json:"frames"`
	RawEvents     uint64 `json:"rawEvents"`
	FieldsDecoded uint64 `json:"fieldsDecoded"`
	FieldsSkipped uint64 `json:"fieldsSkipped"`
	DerivedEvents uint64 `json:"derivedEvents"`
	Anomalies     uint64 `json:"anomalies"`
}

// Pipeline is single threaded: AddDevice, RemoveDevice and ProcessFrame must be
// called from the goroutine that owns the event stream. Stats may be read from
// any goroutine.
type Pipeline struct {
	log     *zap.Logger
	options options

	graph   *taskgraph.Graph
	clock   *frameclock.Clock
	states  *devstate.Table
	devices map[devstate.DeviceID]*device

	derived []DerivedEvent

	frames        *atomic.Uint64
	rawEvents     *atomic.Uint64
	fieldsDecoded *atomic.Uint64
	fieldsSkipped *atomic.Uint64
	derivedEvents *atomic.Uint64
	anomalies     *atomic.Uint64
}

func New(log *zap.Logger, graph *taskgraph.Graph, opts ...Option) *Pipeline {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipeline{
		log:           log,
		options:       o,
		graph:         graph,
		clock:         frameclock.New(),
		states:        devstate.NewTable(),
		devices:       make(map[devstate.DeviceID]*device),
		derived:       make([]DerivedEvent, 0, len(graph.Tasks())),
		frames:        atomic.NewUint64(0),
		rawEvents:     atomic.NewUint64(0),
		fieldsDecoded: atomic.NewUint64(0),
		fieldsSkipped: atomic.NewUint64(0),
		derivedEvents: atomic.NewUint64(0),
		anomalies:     atomic.NewUint64(0),
	}
}

// AddDevice allocates the device's state buffers and compiles its demux program.
// Devices that the graph does not bind are decoded but their fields are dropped.
func (p *Pipeline) AddDevice(spec DeviceSpec) error {
	program, err := demux.Build(spec.StateSize, spec.Fields)
	if err != nil {
		return fmt.Errorf("failed to build demux program for device %d: %w", spec.ID, err)
	}
	base, count := p.graph.DeviceOffset(spec.ID)
	if base != taskgraph.NoNode {
		for _, field := range spec.Fields {
			if field.Slot >= count {
				return fmt.Errorf("%w: device %d slot %d, %d nodes bound", ErrSlotOutOfRange, spec.ID, field.Slot, count)
			}
		}
	}
	state, err := p.states.Add(spec.ID, spec.StateSize)
	if err != nil {
		return err
	}
	for _, r := range spec.Disabled {
		if err := state.SetEnabled(r.Offset, r.Size, false); err != nil {
			p.states.Remove(spec.ID)
			return fmt.Errorf("failed to disable bits of device %d: %w", spec.ID, err)
		}
	}
	p.devices[spec.ID] = &device{
		state:   state,
		program: program,
		base:    base,
	}
	p.log.Debug("Device added",
		zap.Uint16("device", uint16(spec.ID)),
		zap.Int("stateSize", spec.StateSize),
		zap.Int("fields", program.Fields()),
		zap.Bool("bound", base != taskgraph.NoNode),
	)
	return nil
}

func (p *Pipeline) RemoveDevice(id devstate.DeviceID) bool {
	if !p.states.Remove(id) {
		return false
	}
	delete(p.devices, id)
	p.log.Debug("Device removed", zap.Uint16("device", uint16(id)))
	return true
}

func (p *Pipeline) HasDevice(id devstate.DeviceID) bool {
	_, ok := p.devices[id]
	return ok
}

// ProcessFrame runs one cycle over events and returns the derived samples in
// task order. The returned slice is reused by the next call. Call it once per
// host frame, including frames without events.
func (p *Pipeline) ProcessFrame(events []RawEvent) []DerivedEvent {
	p.derived = p.derived[:0]
	for i := range events {
		p.ingest(&events[i])
	}
	if err := p.graph.Compute(); err != nil {
		p.report(&Anomaly{Kind: AnomalyOutOfOrder, Err: err})
	}
	p.drain()
	if err := p.clock.EndCycle(); err != nil {
		p.report(&Anomaly{Kind: AnomalyClock, Timestamp: p.clock.Current().Min, Err: err})
	}
	p.graph.DropAllOlderThan(p.clock.RetentionCutoff())
	p.graph.ClearAll()

	p.frames.Inc()
	p.rawEvents.Add(uint64(len(events)))
	p.derivedEvents.Add(uint64(len(p.derived)))
	if m := p.options.metrics; m != nil {
		m.frames.Inc()
		m.rawEvents.Add(float64(len(events)))
		m.derivedEvents.Add(float64(len(p.derived)))
		m.retained.Set(float64(p.graph.Retained()))
	}
	if b := p.options.bus; b != nil {
		for _, ev := range p.derived {
			b.Publish(ev.Name, ev)
		}
	}
	return p.derived
}

func (p *Pipeline) ingest(ev *RawEvent) {
	dev, ok := p.devices[ev.Device]
	if !ok {
		p.report(&Anomaly{Kind: AnomalyUnknownDevice, Device: ev.Device, Timestamp: ev.Timestamp, Err: devstate.ErrUnknownDevice})
		return
	}
	switch ev.Type {
	case EventReset:
		dev.state.Invalidate()
		return
	case EventState:
	default:
		p.report(&Anomaly{Kind: AnomalyEventType, Device: ev.Device, Timestamp: ev.Timestamp, Err: fmt.Errorf("unsupported event type %s", ev.Type)})
		return
	}
	// a late blob must not replace the newer state it arrived after
	if dev.seen && ev.Timestamp < dev.latest {
		p.report(&Anomaly{
			Kind:      AnomalyOutOfOrder,
			Device:    ev.Device,
			Timestamp: ev.Timestamp,
			Err:       fmt.Errorf("%w: state at %d after %d", stepfn.ErrOutOfOrder, ev.Timestamp, dev.latest),
		})
		return
	}
	dev.latest, dev.seen = ev.Timestamp, true
	p.clock.Observe(ev.Timestamp)
	changed, err := dev.state.Ingest(ev.Data)
	if err != nil {
		p.report(&Anomaly{Kind: AnomalyTruncated, Device: ev.Device, Timestamp: ev.Timestamp, Err: err})
	}
	results := dev.program.Run(changed, dev.state.Front())
	decoded := results.Len()
	p.fieldsDecoded.Add(uint64(decoded))
	p.fieldsSkipped.Add(uint64(dev.program.Skipped()))
	if m := p.options.metrics; m != nil {
		m.fieldsDecoded.Add(float64(decoded))
		m.fieldsSkipped.Add(float64(dev.program.Skipped()))
	}
	if dev.base == taskgraph.NoNode {
		return
	}
	for _, r := range results.Floats {
		p.record(dev, ev, dev.base+taskgraph.NodeID(r.Slot), r.Value)
	}
	for _, r := range results.UInts {
		p.record(dev, ev, dev.base+taskgraph.NodeID(r.Slot), float32(r.Value))
	}
}

func (p *Pipeline) record(dev *device, ev *RawEvent, id taskgraph.NodeID, value float32) {
	if err := p.graph.Node(id).Record(ev.Timestamp, value); err != nil {
		// the next event re-decodes every field so the leaf catches up
		dev.state.Invalidate()
		p.report(&Anomaly{
			Kind:      AnomalyOutOfOrder,
			Device:    ev.Device,
			Timestamp: ev.Timestamp,
			Err:       fmt.Errorf("node %q: %w", p.graph.Name(id), err),
		})
	}
}

// drain collects the dirty runs of task outputs before nodes are cleared.
func (p *Pipeline) drain() {
	for _, id := range p.graph.Outputs() {
		node := p.graph.Node(id)
		run, dirty := node.ResolveDirty()
		if !dirty {
			continue
		}
		name := p.graph.Name(id)
		for i := 0; i < run.Count; i++ {
			sample := node.Get(run.Start + uint64(i))
			p.derived = append(p.derived, DerivedEvent{
				Node:      id,
				Name:      name,
				Timestamp: sample.Timestamp,
				Value:     sample.Value,
			})
		}
	}
}

func (p *Pipeline) report(err error) {
	p.anomalies.Inc()
	if m := p.options.metrics; m != nil {
		m.anomalies.WithLabelValues(anomalyKind(err)).Inc()
	}
	if p.options.diagnostics != nil {
		p.options.diagnostics(err)
		return
	}
	p.log.Warn("Frame anomaly", zap.Error(err))
}

// Fired reports whether the node received a sample during the last frame.
// Frames without events never fire.
func (p *Pipeline) Fired(id taskgraph.NodeID) bool {
	node := p.graph.Node(id)
	if node == nil || p.clock.Cycle() == 0 || p.clock.Synthetic() {
		return false
	}
	return node.ChangedSince(p.clock.Current().Min)
}

// Node returns the step function of a node, or nil for an unknown id.
func (p *Pipeline) Node(id taskgraph.NodeID) *stepfn.Function {
	return p.graph.Node(id)
}

func (p *Pipeline) Lookup(name string) (taskgraph.NodeID, bool) {
	return p.graph.Lookup(name)
}

func (p *Pipeline) Graph() *taskgraph.Graph {
	return p.graph
}

func (p *Pipeline) Clock() *frameclock.Clock {
	return p.clock
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:        p.frames.Load(),
		RawEvents:     p.rawEvents.Load(),
		FieldsDecoded: p.fieldsDecoded.Load(),
		FieldsSkipped: p.fieldsSkipped.Load(),
		DerivedEvents: p.derivedEvents.Load(),
		Anomalies:     p.anomalies.Load(),
	}
}
