// Package replay reads and writes captured raw events as JSON lines:
//
//	{"device":1,"ts":1000,"data":"AQID"}
//	{"device":1,"ts":1500,"type":"reset"}
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/neuroplastio/neio-signal/internal/devstate"
	"github.com/neuroplastio/neio-signal/internal/pipeline"
)

const (
	maxLineSize = 1 << 20
	// maxGapFrames caps the empty frames emitted for a pause in the capture.
	maxGapFrames = 1024
)

type Record struct {
	Device    devstate.DeviceID `json:"device"`
	Timestamp int64             `json:"ts"`
	Type      string            `json:"type,omitempty"`
	Data      []byte            `json:"data,omitempty"`
}

func (r Record) Event() (pipeline.RawEvent, error) {
	ev := pipeline.RawEvent{Device: r.Device, Timestamp: r.Timestamp, Data: r.Data}
	switch r.Type {
	case "", "state":
		ev.Type = pipeline.EventState
	case "reset":
		ev.Type = pipeline.EventReset
	default:
		return pipeline.RawEvent{}, fmt.Errorf("unknown event type %q", r.Type)
	}
	return ev, nil
}

func FromEvent(ev pipeline.RawEvent) Record {
	r := Record{Device: ev.Device, Timestamp: ev.Timestamp, Data: ev.Data}
	if ev.Type == pipeline.EventReset {
		r.Type = "reset"
	}
	return r
}

// Frames groups the capture into frames of span timestamp units and calls fn
// once per frame, including empty frames for pauses in the capture.
// The events slice is reused between calls.
func Frames(r io.Reader, span int64, fn func(events []pipeline.RawEvent) error) error {
	if span <= 0 {
		return fmt.Errorf("frame span must be positive, got %d", span)
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var (
		batch   []pipeline.RawEvent
		start   int64
		started bool
		line    int
	)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("line %d: failed to unmarshal record: %w", line, err)
		}
		ev, err := rec.Event()
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if !started {
			start = ev.Timestamp
			started = true
		}
		for gap := 0; ev.Timestamp >= start+span; gap++ {
			if gap == maxGapFrames {
				start = ev.Timestamp
				break
			}
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
			start += span
		}
		batch = append(batch, ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Writer appends events to a capture. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Write(ev pipeline.RawEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(FromEvent(ev)); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
