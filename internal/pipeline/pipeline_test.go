package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neuroplastio/neio-signal/internal/demux"
	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/frameclock"
	"github.com/neuroplastio/neio-signal/internal/taskgraph"
	"github.com/neuroplastio/neio-signal/pkg/bus"
	"github.com/neuroplastio/neio-signal/pkg/stepfn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mouse devstate.DeviceID = 1

type fixture struct {
	graph    *taskgraph.Graph
	left     taskgraph.NodeID
	pressed  taskgraph.NodeID
	released taskgraph.NodeID
}

func newFixture(t *testing.T) fixture {
	b := taskgraph.NewBuilder(zap.NewNop()).WithCapacity(8)
	left := b.AddNode("mouse.left", 0)
	pressed := b.AddNode("left_pressed", 0)
	released := b.AddNode("left_released", 0)
	cfg := b.AddConfig(taskgraph.Config{Level: 0.5})
	b.BindDevice(mouse, left, 1)
	b.AddTask(taskgraph.Task{Kind: taskgraph.OpRisingEdge, Inputs: []taskgraph.NodeID{left}, Output: pressed, Config: cfg})
	b.AddTask(taskgraph.Task{Kind: taskgraph.OpFallingEdge, Inputs: []taskgraph.NodeID{left}, Output: released, Config: cfg})
	g, err := b.Build()
	require.NoError(t, err)
	return fixture{graph: g, left: left, pressed: pressed, released: released}
}

func mouseSpec() DeviceSpec {
	return DeviceSpec{
		ID:        mouse,
		StateSize: 1,
		Fields: []demux.Field{
			{BitOffset: 0, BitSize: 1, Source: demux.SourceUnsigned, Destination: demux.DestinationFloat, Slot: 0},
		},
	}
}

func state(ts int64, b byte) RawEvent {
	return RawEvent{Device: mouse, Timestamp: ts, Type: EventState, Data: []byte{b}}
}

func TestProcessFrame(t *testing.T) {
	f := newFixture(t)
	var anomalies []error
	p := New(zap.NewNop(), f.graph, WithDiagnostics(func(err error) {
		anomalies = append(anomalies, err)
	}))
	require.NoError(t, p.AddDevice(mouseSpec()))

	// first state bootstraps the leaf without an edge
	derived := p.ProcessFrame([]RawEvent{state(10, 0x00)})
	assert.Empty(t, derived)
	assert.Equal(t, int64(10), p.Node(f.left).LatestTimestamp())

	derived = p.ProcessFrame([]RawEvent{state(20, 0x01), state(30, 0x00)})
	assert.Equal(t, []DerivedEvent{
		{Node: f.pressed, Name: "left_pressed", Timestamp: 20, Value: 1},
		{Node: f.released, Name: "left_released", Timestamp: 30, Value: 1},
	}, derived)
	assert.True(t, p.Fired(f.pressed))
	assert.True(t, p.Fired(f.released))
	for id := 0; id < f.graph.Len(); id++ {
		assert.False(t, p.Node(taskgraph.NodeID(id)).IsDirty())
	}

	derived = p.ProcessFrame(nil)
	assert.Empty(t, derived)
	assert.False(t, p.Fired(f.pressed))

	// unchanged bits are not decoded
	derived = p.ProcessFrame([]RawEvent{state(40, 0x00)})
	assert.Empty(t, derived)
	assert.Equal(t, int64(30), p.Node(f.left).LatestTimestamp())
	assert.Equal(t, frameclock.Bounds{Min: 40, Max: 40}, p.Clock().Current())

	// the sample at 10 left the retention window
	left := p.Node(f.left)
	assert.Equal(t, 2, left.Count())
	assert.Equal(t, float32(0), left.Earliest())
	assert.Equal(t, 4, f.graph.Retained())

	assert.Empty(t, anomalies)
	stats := p.Stats()
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, uint64(4), stats.RawEvents)
	assert.Equal(t, uint64(3), stats.FieldsDecoded)
	assert.Equal(t, uint64(1), stats.FieldsSkipped)
	assert.Equal(t, uint64(2), stats.DerivedEvents)
}

func TestAnomaliesDoNotStopFrame(t *testing.T) {
	f := newFixture(t)
	var anomalies []error
	p := New(zap.NewNop(), f.graph, WithDiagnostics(func(err error) {
		anomalies = append(anomalies, err)
	}))
	require.NoError(t, p.AddDevice(mouseSpec()))
	pad := mouseSpec()
	pad.ID = 7
	require.NoError(t, p.AddDevice(pad))
	p.ProcessFrame([]RawEvent{state(100, 0x00)})

	derived := p.ProcessFrame([]RawEvent{
		{Device: 9, Timestamp: 110, Type: EventState, Data: []byte{1}},
		state(90, 0x01),
		{Device: 7, Timestamp: 95, Type: EventState, Data: []byte{1}},
		{Device: mouse, Timestamp: 120, Type: EventState, Data: []byte{0x01, 0xff}},
		state(130, 0x00),
	})

	kinds := make([]string, 0, len(anomalies))
	for _, err := range anomalies {
		var anomaly *Anomaly
		require.True(t, errors.As(err, &anomaly))
		kinds = append(kinds, anomaly.Kind)
	}
	assert.Equal(t, []string{AnomalyUnknownDevice, AnomalyOutOfOrder, AnomalyTruncated, AnomalyClock}, kinds)
	assert.ErrorIs(t, anomalies[0], devstate.ErrUnknownDevice)
	assert.ErrorIs(t, anomalies[1], stepfn.ErrOutOfOrder)
	assert.ErrorIs(t, anomalies[2], devstate.ErrTruncated)
	assert.ErrorIs(t, anomalies[3], frameclock.ErrClockRegression)

	// the state at 90 is dropped whole, the truncated blob is still decoded
	left := p.Node(f.left)
	assert.Equal(t, []stepfn.Sample{{Timestamp: 100, Value: 0}, {Timestamp: 120, Value: 1}, {Timestamp: 130, Value: 0}}, []stepfn.Sample{
		left.Get(left.Tail()), left.Get(left.Tail() + 1), left.Get(left.Tail() + 2),
	})
	assert.Equal(t, []DerivedEvent{
		{Node: f.pressed, Name: "left_pressed", Timestamp: 120, Value: 1},
		{Node: f.released, Name: "left_released", Timestamp: 130, Value: 1},
	}, derived)
	assert.Equal(t, uint64(4), p.Stats().Anomalies)
}

func TestLateStateDoesNotDesyncLeaf(t *testing.T) {
	f := newFixture(t)
	var anomalies []error
	p := New(zap.NewNop(), f.graph, WithDiagnostics(func(err error) {
		anomalies = append(anomalies, err)
	}))
	require.NoError(t, p.AddDevice(mouseSpec()))

	p.ProcessFrame([]RawEvent{state(10, 0x00)})
	assert.Empty(t, p.ProcessFrame([]RawEvent{state(5, 0x01)}))
	require.Len(t, anomalies, 1)
	assert.ErrorIs(t, anomalies[0], stepfn.ErrOutOfOrder)
	assert.Equal(t, float32(0), p.Node(f.left).LatestValue())

	derived := p.ProcessFrame([]RawEvent{state(20, 0x01)})
	assert.Equal(t, []DerivedEvent{
		{Node: f.pressed, Name: "left_pressed", Timestamp: 20, Value: 1},
	}, derived)
	assert.Equal(t, float32(1), p.Node(f.left).LatestValue())
	assert.Equal(t, int64(20), p.Node(f.left).LatestTimestamp())
	assert.Len(t, anomalies, 1)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	p := New(zap.NewNop(), f.graph)
	require.NoError(t, p.AddDevice(mouseSpec()))
	p.ProcessFrame([]RawEvent{state(10, 0x01)})
	require.Equal(t, 1, f.graph.Node(f.left).Count())

	p.ProcessFrame([]RawEvent{
		{Device: mouse, Timestamp: 20, Type: EventReset},
		state(20, 0x01),
	})
	// the reset makes the unchanged state decode again
	left := p.Node(f.left)
	assert.Equal(t, int64(20), left.LatestTimestamp())
}

func TestAddDevice(t *testing.T) {
	f := newFixture(t)
	p := New(zap.NewNop(), f.graph)

	spec := mouseSpec()
	spec.Fields = append(spec.Fields, demux.Field{BitOffset: 1, BitSize: 1, Slot: 1})
	assert.ErrorIs(t, p.AddDevice(spec), ErrSlotOutOfRange)

	spec = mouseSpec()
	spec.Fields[0].BitSize = 9
	assert.ErrorIs(t, p.AddDevice(spec), demux.ErrInvalidField)

	spec = mouseSpec()
	spec.Disabled = []BitRange{{Offset: 4, Size: 8}}
	assert.Error(t, p.AddDevice(spec))
	assert.False(t, p.HasDevice(mouse))

	require.NoError(t, p.AddDevice(mouseSpec()))
	assert.ErrorIs(t, p.AddDevice(mouseSpec()), devstate.ErrDeviceExists)

	// unbound devices are decoded but never reach the graph
	unbound := mouseSpec()
	unbound.ID = 7
	require.NoError(t, p.AddDevice(unbound))
	p.ProcessFrame([]RawEvent{{Device: 7, Timestamp: 1, Data: []byte{1}}})
	assert.Equal(t, 0, f.graph.Retained())
	assert.Equal(t, uint64(1), p.Stats().FieldsDecoded)

	assert.True(t, p.RemoveDevice(7))
	assert.False(t, p.RemoveDevice(7))
}

func TestDisabledBits(t *testing.T) {
	f := newFixture(t)
	p := New(zap.NewNop(), f.graph)
	spec := mouseSpec()
	spec.Disabled = []BitRange{{Offset: 0, Size: 1}}
	require.NoError(t, p.AddDevice(spec))

	p.ProcessFrame([]RawEvent{state(10, 0x01)})
	assert.Equal(t, 0, p.Node(f.left).Count())
	assert.Equal(t, uint64(1), p.Stats().FieldsSkipped)
}

func TestMetricsAndBus(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	require.Error(t, err)

	b := bus.NewBus[string, DerivedEvent](zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "left_pressed")

	p := New(zap.NewNop(), f.graph, WithMetrics(m), WithBus(b), WithDiagnostics(func(error) {}))
	require.NoError(t, p.AddDevice(mouseSpec()))
	p.ProcessFrame([]RawEvent{state(10, 0x00)})
	p.ProcessFrame([]RawEvent{state(20, 0x01), {Device: 3, Timestamp: 20}})

	select {
	case msg := <-ch:
		assert.Equal(t, int64(20), msg.Message.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("derived event was not published")
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.frames))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.rawEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.derivedEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.anomalies.WithLabelValues(AnomalyUnknownDevice)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.retained))
}
