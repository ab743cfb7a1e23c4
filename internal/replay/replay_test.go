package replay

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/neuroplastio/neio-signal/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, src string, span int64) [][]pipeline.RawEvent {
	t.Helper()
	var frames [][]pipeline.RawEvent
	err := Frames(strings.NewReader(src), span, func(events []pipeline.RawEvent) error {
		frames = append(frames, append([]pipeline.RawEvent(nil), events...))
		return nil
	})
	require.NoError(t, err)
	return frames
}

func TestFrames(t *testing.T) {
	src := `{"device":1,"ts":100,"data":"AA=="}
{"device":1,"ts":102,"data":"AQ=="}

{"device":2,"ts":105,"type":"reset"}
{"device":1,"ts":118,"data":"AA=="}
`
	frames := collect(t, src, 5)
	require.Len(t, frames, 4)
	assert.Equal(t, []pipeline.RawEvent{
		{Device: 1, Timestamp: 100, Type: pipeline.EventState, Data: []byte{0}},
		{Device: 1, Timestamp: 102, Type: pipeline.EventState, Data: []byte{1}},
	}, frames[0])
	assert.Equal(t, []pipeline.RawEvent{{Device: 2, Timestamp: 105, Type: pipeline.EventReset}}, frames[1])
	assert.Empty(t, frames[2])
	assert.Equal(t, int64(118), frames[3][0].Timestamp)
}

func TestFramesLongPause(t *testing.T) {
	src := `{"device":1,"ts":0}
{"device":1,"ts":1000000}
`
	frames := collect(t, src, 1)
	assert.Len(t, frames, maxGapFrames+1)
	assert.Equal(t, int64(1000000), frames[maxGapFrames][0].Timestamp)
}

func TestFramesErrors(t *testing.T) {
	assert.Error(t, Frames(strings.NewReader(""), 0, nil))
	err := Frames(strings.NewReader(`{"device":1,"ts":1,"type":"bogus"}`), 1, func([]pipeline.RawEvent) error { return nil })
	assert.ErrorContains(t, err, "line 1")
	err = Frames(strings.NewReader("{"), 1, func([]pipeline.RawEvent) error { return nil })
	assert.Error(t, err)

	stop := errors.New("stop")
	err = Frames(strings.NewReader(`{"device":1,"ts":1}`), 1, func([]pipeline.RawEvent) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	events := []pipeline.RawEvent{
		{Device: 3, Timestamp: 10, Type: pipeline.EventState, Data: []byte{0xde, 0xad}},
		{Device: 3, Timestamp: 11, Type: pipeline.EventReset},
	}
	for _, ev := range events {
		require.NoError(t, w.Write(ev))
	}
	frames := collect(t, buf.String(), 100)
	require.Len(t, frames, 1)
	assert.Equal(t, events, frames[0])
}
