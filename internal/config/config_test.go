package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/encoder"
)

func TestLoad_PartialFileFallsBackToDefaults(t *testing.T) {
	configFile := createTempConfig(t, `
audio:
  sample_rate: 48000
recorder:
  encoding: opus
  directory: ~/Recordings/dictator
hooks:
  on_stop: notify-send done
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels, "channels inherited from defaults")
	assert.Equal(t, "auto", cfg.Audio.Backend)
	assert.Equal(t, "opus", cfg.Recorder.Encoding)
	assert.Equal(t, "notify-send done", cfg.Hooks.OnStop)
	assert.Empty(t, cfg.Hooks.OnStart)
	assert.Equal(t, "info", cfg.Logging.Level)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "Recordings", "dictator"), cfg.Recorder.Directory)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	configFile := createTempConfig(t, `
audio:
  sample_rate: 48000
`)
	t.Setenv("DICTATOR_AUDIO_SAMPLE_RATE", "24000")
	t.Setenv("DICTATOR_LOGGING_LEVEL", "debug")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 24000, cfg.Audio.SampleRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_CreatesMissingFileFromDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sample_rate: 16000")
	assert.Contains(t, string(data), "encoding: wav")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	configFile := createTempConfig(t, `
audio:
  channels: 0
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoad_MalformedYAML(t *testing.T) {
	configFile := createTempConfig(t, "audio: [unterminated\n")

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestWriteDefault_KeepsExistingFile(t *testing.T) {
	configFile := createTempConfig(t, "audio:\n  sample_rate: 8000\n")

	require.NoError(t, WriteDefault(configFile))

	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, "audio:\n  sample_rate: 8000\n", string(data))
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/dictator/config.yaml", DefaultPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/someone")
	assert.Equal(t, "/home/someone/.config/dictator/config.yaml", DefaultPath())
}

func TestRecorderOptions(t *testing.T) {
	cfg := Default()
	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 2
	cfg.Audio.PollIntervalMs = 20
	cfg.Recorder.Encoding = "Opus"
	cfg.Recorder.BridgeGraceMs = 75

	opts := cfg.RecorderOptions()
	assert.Equal(t, audio.Format{SampleRate: 48000, Channels: 2}, opts.Format)
	assert.Equal(t, encoder.KindOpus, opts.Encoding)
	assert.Equal(t, 20*time.Millisecond, opts.PollInterval)
	assert.Equal(t, 75*time.Millisecond, opts.BridgeGrace)
	assert.Equal(t, 10*time.Second, opts.FinalizeTimeout)
	assert.Equal(t, cfg.Recorder.Directory, opts.Directory)
	assert.Nil(t, opts.Bus)
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "a", "b"), expandPath("~/a/b"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "", expandPath(""))
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
