package agentcli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLayout = `
devices:
  - id: 1
    name: mouse
    stateSize: 1
    fields:
      - name: left
        bitSize: 1
tasks:
  - left_pressed = rising(mouse.left)
`

const testCapture = `{"device":1,"ts":0,"data":"AA=="}
{"device":1,"ts":10,"data":"AQ=="}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "layout.yml")
	require.NoError(t, os.WriteFile(layoutPath, []byte(testLayout), 0o644))
	capturePath := filepath.Join(dir, "capture.jsonl")
	require.NoError(t, os.WriteFile(capturePath, []byte(testCapture), 0o644))

	var out, errOut bytes.Buffer
	cmd := NewRootCmd(dir)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	for i, arg := range args {
		if arg == "$CAPTURE" {
			args[i] = capturePath
		}
	}
	cmd.SetArgs(append(args, "--layout", layoutPath, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCompileCommand(t *testing.T) {
	out, err := execute(t, "compile")
	require.NoError(t, err)
	assert.Contains(t, out, "device 1 mouse (1 bytes, bound")
	assert.Contains(t, out, "mouse.left")
	assert.Contains(t, out, "left_pressed = rising([mouse.left], level=0.5)")
}

func TestReplayCommand(t *testing.T) {
	out, err := execute(t, "replay", "$CAPTURE", "--frame", "4", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"left_pressed","ts":10,"value":1`)
	assert.Contains(t, out, `"frames":3`)
}

func TestReplayMissingCapture(t *testing.T) {
	_, err := execute(t, "replay", "/does/not/exist.jsonl")
	assert.ErrorContains(t, err, "failed to open capture")
}

func TestForgetDeviceInvalidID(t *testing.T) {
	_, err := execute(t, "forget-device", "mouse")
	assert.ErrorContains(t, err, "invalid device id")
}

func TestDescribeCommand(t *testing.T) {
	desc := []byte{
		0x05, 0x01, 0x09, 0x02, 0xa1, 0x01,
		0x05, 0x09, 0x19, 0x01, 0x29, 0x02, 0x75, 0x01, 0x95, 0x02, 0x81, 0x02,
		0x75, 0x06, 0x95, 0x01, 0x81, 0x01,
		0xc0,
	}
	path := filepath.Join(t.TempDir(), "mouse.desc")
	require.NoError(t, os.WriteFile(path, desc, 0o644))

	out, err := execute(t, "describe", "--file", path, "--name", "Trackball", "--id", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "id: 7")
	assert.Contains(t, out, "name: trackball")
	assert.Contains(t, out, "stateSize: 1")
	assert.Contains(t, out, "name: button_2")

	_, err = execute(t, "describe")
	assert.Error(t, err)
}
