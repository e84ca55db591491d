package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/domain/session"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	inputs    []string
	toggles   int
	toggleErr error
}

func (f *fakeController) HandleInput(text string) error {
	f.inputs = append(f.inputs, text)
	return nil
}

func (f *fakeController) ToggleCapture() (bool, error) {
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	f.toggles++
	return f.toggles%2 == 1, nil
}

func TestInterpret(t *testing.T) {
	ctrl := &fakeController{}
	var out bytes.Buffer

	for _, line := range []string{"a red", "a red fox\r", "", "  /rec ", "/rec"} {
		quit, err := interpret(ctrl, line, &out)
		require.NoError(t, err)
		assert.False(t, quit)
	}

	quit, err := interpret(ctrl, "/quit", &out)
	require.NoError(t, err)
	assert.True(t, quit)

	assert.Equal(t, []string{"a red", "a red fox", ""}, ctrl.inputs)
	assert.Equal(t, 2, ctrl.toggles)
	assert.Contains(t, out.String(), "Recording.")
	assert.Contains(t, out.String(), "Stopped recording.")
}

func TestInterpretCaptureErrors(t *testing.T) {
	var out bytes.Buffer

	_, err := interpret(&fakeController{toggleErr: session.ErrNoCaptureSource}, "/rec", &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No speech recognizer configured")

	out.Reset()
	_, err = interpret(&fakeController{toggleErr: errors.New("exec failed")}, "/rec", &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Capture failed: exec failed")
}

func TestApplyFlags(t *testing.T) {
	f := pflag.NewFlagSet("run", pflag.ContinueOnError)
	registerRunFlags(f)
	require.NoError(t, f.Parse([]string{
		"--comfy-http", "http://gpu:8188",
		"--throttle", "250ms",
		"--no-preview",
		"--lang", "en-US",
		"--capture-file", "/tmp/transcript.fifo",
	}))

	cfg := config.Default()
	require.NoError(t, applyFlags(f, cfg))

	assert.Equal(t, "http://gpu:8188", cfg.Comfy.HTTPBase)
	assert.Equal(t, 250*time.Millisecond, cfg.Input.ThrottleDelay)
	assert.Equal(t, time.Second, cfg.Input.DebounceDelay)
	assert.False(t, cfg.Preview.Enabled)
	assert.Equal(t, "en-US", cfg.Capture.Language)
	assert.Equal(t, "/tmp/transcript.fifo", cfg.Capture.File)
	assert.Equal(t, "ws://127.0.0.1:8188/ws", cfg.Comfy.WSBase)
}

func TestApplyFlagsValidates(t *testing.T) {
	f := pflag.NewFlagSet("run", pflag.ContinueOnError)
	registerRunFlags(f)
	require.NoError(t, f.Parse([]string{"--debounce=-1s"}))

	assert.Error(t, applyFlags(f, config.Default()))
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := `{"1":{"inputs":{"text":"a fox"},"class_type":"CLIPTextEncode","_meta":{"title":"positive"}}}`
	bad := `{"1":{"inputs":{"clip":["9",0]},"class_type":"CLIPTextEncode","_meta":{"title":""}}}`

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.json"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "bad.json"), []byte(bad), 0o644))

	var out bytes.Buffer
	require.NoError(t, runValidate(&out, []string{filepath.Join(dir, "good.json")}))
	assert.Contains(t, out.String(), `text "a fox"`)

	out.Reset()
	err := runValidate(&out, []string{filepath.Join(dir, "**", "*.json")})
	assert.ErrorIs(t, err, errInvalidTemplates)
	assert.Contains(t, out.String(), "FAIL")
	assert.Contains(t, out.String(), "ok   ")

	err = runValidate(&out, []string{filepath.Join(dir, "*.toml")})
	assert.Error(t, err)
}
