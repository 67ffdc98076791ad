package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "explicit malgo backend", mutate: func(c *Config) { c.Audio.Backend = "malgo" }},
		{name: "pipewire backend", mutate: func(c *Config) { c.Audio.Backend = "pipewire" }},
		{name: "opus at 48k stereo", mutate: func(c *Config) {
			c.Audio.SampleRate = 48000
			c.Audio.Channels = 2
			c.Recorder.Encoding = "opus"
		}},
		{name: "json logging", mutate: func(c *Config) { c.Logging.Format = "JSON" }},

		{name: "unknown backend", mutate: func(c *Config) { c.Audio.Backend = "jack" }, wantErr: "audio.backend"},
		{name: "zero sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 0 }, wantErr: "audio"},
		{name: "one hertz sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 1 }, wantErr: "audio"},
		{name: "too many channels", mutate: func(c *Config) { c.Audio.Channels = 9 }, wantErr: "audio"},
		{name: "zero poll interval", mutate: func(c *Config) { c.Audio.PollIntervalMs = 0 }, wantErr: "audio.poll_interval_ms"},
		{name: "unknown encoding", mutate: func(c *Config) { c.Recorder.Encoding = "flac" }, wantErr: "recorder.encoding"},
		{name: "opus at 44.1k", mutate: func(c *Config) {
			c.Audio.SampleRate = 44100
			c.Recorder.Encoding = "opus"
		}, wantErr: "recorder.encoding"},
		{name: "empty directory", mutate: func(c *Config) { c.Recorder.Directory = "" }, wantErr: "recorder.directory"},
		{name: "zero chunk buffer", mutate: func(c *Config) { c.Recorder.ChunkBuffer = 0 }, wantErr: "recorder.chunk_buffer"},
		{name: "zero command buffer", mutate: func(c *Config) { c.Recorder.CommandBuffer = 0 }, wantErr: "recorder.command_buffer"},
		{name: "zero bridge grace", mutate: func(c *Config) { c.Recorder.BridgeGraceMs = 0 }, wantErr: "recorder.bridge_grace_ms"},
		{name: "negative finalize timeout", mutate: func(c *Config) { c.Recorder.FinalizeTimeoutMs = -1 }, wantErr: "recorder.finalize_timeout_ms"},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "unknown log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "negative backups", mutate: func(c *Config) { c.Logging.MaxBackups = -1 }, wantErr: "logging.max_size_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
