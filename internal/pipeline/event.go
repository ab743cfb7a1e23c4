package pipeline

import (
	"fmt"

	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/taskgraph"
)

type EventType uint8

const (
	// EventState carries a packed device state blob.
	EventState EventType = iota
	// EventReset makes the next state of the device bootstrap again.
	EventReset
)

func (t EventType) String() string {
	switch t {
	case EventState:
		return "state"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("EventType(%d)", t)
	}
}

// RawEvent is one input from the host. Data is only read during ProcessFrame.
type RawEvent struct {
	Device    devstate.DeviceID
	Timestamp int64
	Type      EventType
	Data      []byte
}

// DerivedEvent is a sample written by a graph task during a frame.
type DerivedEvent struct {
	Node      taskgraph.NodeID `json:"node"`
	Name      string           `json:"name"`
	Timestamp int64            `json:"ts"`
	Value     float32          `json:"value"`
}

// Anomaly is a runtime condition that was reported but did not stop the frame.
type Anomaly struct {
	Kind      string
	Device    devstate.DeviceID
	Timestamp int64
	Err       error
}

func (a *Anomaly) Error() string {
	return fmt.Sprintf("%s anomaly (device %d, ts %d): %v", a.Kind, a.Device, a.Timestamp, a.Err)
}

func (a *Anomaly) Unwrap() error {
	return a.Err
}
