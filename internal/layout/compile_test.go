package layout

import (
	"testing"

	"github.com/ghodss/yaml"
	"github.com/neuroplastio/neio-signal/internal/demux"
	"github.com/neuroplastio/neio-signal/internal/pipeline"
	"github.com/neuroplastio/neio-signal/internal/taskgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mouseLayout = `
capacity: 16
devices:
  - id: 1
    name: Mouse
    stateSize: 4
    hid: "046d:c077"
    fields:
      - name: LeftButton
        bitSize: 1
      - name: rightButton
        bitOffset: 1
        bitSize: 1
      - name: x
        byteOffset: 1
        bitSize: 8
        destination: uint
      - name: noise
        byteOffset: 2
        bitSize: 8
        enabled: false
  - id: 2
    name: pad
    stateSize: 4
    bind: false
    fields:
      - name: trigger
        bitSize: 32
        source: float32
tasks:
  - left_pressed = rising(mouse.left_button)
  - left_released = falling(Mouse.LeftButton, level=0.25)
  - right_pressed = rise(mouse.right_button, 0.75)
  - pressed_again = rising(left_pressed)
`

func parse(t *testing.T, src string) Layout {
	var l Layout
	require.NoError(t, yaml.Unmarshal([]byte(src), &l))
	return l
}

func TestCompile(t *testing.T) {
	l := parse(t, mouseLayout)
	c, err := Compile(zap.NewNop(), l)
	require.NoError(t, err)

	require.Len(t, c.Devices, 2)
	mouse := c.Devices[0]
	assert.Equal(t, "mouse", mouse.Name)
	assert.True(t, mouse.Bound)
	assert.Equal(t, "046d:c077", mouse.HID)
	assert.Equal(t, []string{"mouse.left_button", "mouse.right_button", "mouse.x", "mouse.noise"}, mouse.Nodes)
	assert.Equal(t, []demux.Field{
		{BitOffset: 0, BitSize: 1, Slot: 0},
		{BitOffset: 1, BitSize: 1, Slot: 1},
		{BitOffset: 8, BitSize: 8, Destination: demux.DestinationUInt, Slot: 2},
		{BitOffset: 16, BitSize: 8, Slot: 3},
	}, mouse.Spec.Fields)
	assert.Equal(t, []pipeline.BitRange{{Offset: 16, Size: 8}}, mouse.Spec.Disabled)

	pad, ok := c.Device(2)
	require.True(t, ok)
	assert.False(t, pad.Bound)
	assert.Equal(t, demux.SourceFloat32, pad.Spec.Fields[0].Source)

	g := c.Graph
	assert.Equal(t, 8, g.Len())
	base, count := g.DeviceOffset(1)
	assert.Equal(t, taskgraph.NodeID(0), base)
	assert.Equal(t, 4, count)
	base, _ = g.DeviceOffset(2)
	assert.Equal(t, taskgraph.NoNode, base)

	tasks := g.Tasks()
	require.Len(t, tasks, 4)
	assert.Equal(t, taskgraph.OpRisingEdge, tasks[0].Kind)
	assert.Equal(t, taskgraph.OpFallingEdge, tasks[1].Kind)
	assert.Equal(t, []taskgraph.NodeID{0}, tasks[1].Inputs)
	assert.Equal(t, []taskgraph.Config{{Level: 0.5}, {Level: 0.25}, {Level: 0.75}}, g.Configs())
	assert.Equal(t, 0, tasks[3].Config)
	pressed, ok := g.Lookup("left_pressed")
	require.True(t, ok)
	assert.Equal(t, []taskgraph.NodeID{pressed}, tasks[3].Inputs)

	again, err := Compile(zap.NewNop(), parse(t, mouseLayout))
	require.NoError(t, err)
	assert.Equal(t, c.Hash, again.Hash)
	assert.Equal(t, c.Devices[0].Hash, again.Devices[0].Hash)
	assert.NotEqual(t, c.Devices[0].Hash, c.Devices[1].Hash)
}

func TestCompiledPipeline(t *testing.T) {
	c, err := Compile(zap.NewNop(), parse(t, mouseLayout))
	require.NoError(t, err)
	p, err := c.NewPipeline(zap.NewNop())
	require.NoError(t, err)
	assert.True(t, p.HasDevice(1))
	assert.True(t, p.HasDevice(2))

	p.ProcessFrame([]pipeline.RawEvent{{Device: 1, Timestamp: 1, Data: []byte{0, 0, 0, 0}}})
	derived := p.ProcessFrame([]pipeline.RawEvent{{Device: 1, Timestamp: 2, Data: []byte{0x01, 0x10, 0xff, 0}}})
	require.Len(t, derived, 2)
	assert.Equal(t, "left_pressed", derived[0].Name)
	assert.Equal(t, "pressed_again", derived[1].Name)

	x, ok := p.Lookup("mouse.x")
	require.True(t, ok)
	assert.Equal(t, float32(16), p.Node(x).LatestValue())
	noise, ok := p.Lookup("mouse.noise")
	require.True(t, ok)
	// disabled bits never reach the node
	assert.Equal(t, 0, p.Node(noise).Count())
}

func TestCompileErrors(t *testing.T) {
	device := func(fields ...FieldConfig) DeviceConfig {
		return DeviceConfig{ID: 1, Name: "mouse", StateSize: 1, Fields: fields}
	}
	button := FieldConfig{Name: "left", BitSize: 1}
	testCases := []struct {
		name   string
		layout Layout
	}{
		{"duplicate device id", Layout{Devices: []DeviceConfig{device(button), device(button)}}},
		{"missing name", Layout{Devices: []DeviceConfig{{ID: 1, StateSize: 1}}}},
		{"zero state size", Layout{Devices: []DeviceConfig{{ID: 1, Name: "m"}}}},
		{"field outside state", Layout{Devices: []DeviceConfig{device(FieldConfig{Name: "x", ByteOffset: 1, BitSize: 1})}}},
		{"bad source", Layout{Devices: []DeviceConfig{device(FieldConfig{Name: "x", BitSize: 1, Source: "int"})}}},
		{"duplicate field", Layout{Devices: []DeviceConfig{device(button, button)}}},
		{"unknown op", Layout{Devices: []DeviceConfig{device(button)}, Tasks: []string{"a = toggle(mouse.left)"}}},
		{"unknown input", Layout{Devices: []DeviceConfig{device(button)}, Tasks: []string{"a = rising(mouse.right)"}}},
		{"unknown parameter", Layout{Devices: []DeviceConfig{device(button)}, Tasks: []string{"a = rising(mouse.left, gain=2)"}}},
		{"too many inputs", Layout{Devices: []DeviceConfig{device(button)}, Tasks: []string{"a = rising(mouse.left, mouse.left)"}}},
		{"output redeclared", Layout{Devices: []DeviceConfig{device(button)}, Tasks: []string{"mouse.left = rising(mouse.left)"}}},
		{"syntax", Layout{Devices: []DeviceConfig{device(button)}, Tasks: []string{"a = rising(mouse.left"}}},
		{"self reference", Layout{Devices: []DeviceConfig{device(button)}, Tasks: []string{"a = rising(a)"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(zap.NewNop(), tc.layout)
			assert.ErrorIs(t, err, ErrInvalidLayout)
		})
	}
}

func TestNodeName(t *testing.T) {
	assert.Equal(t, "mouse.left_button", NodeName("Mouse.LeftButton"))
	assert.Equal(t, "left_pressed", NodeName("left_pressed"))
	assert.Equal(t, "pad.trigger_left", NodeName("pad.triggerLeft"))
}
