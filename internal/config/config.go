package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/encoder"
	"github.com/audiolibrelab/dictator/internal/recorder"
)

const envPrefix = "DICTATOR"

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	Hooks    HooksConfig    `mapstructure:"hooks" yaml:"hooks"`
	Feedback FeedbackConfig `mapstructure:"feedback" yaml:"feedback"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

type AudioConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend"` // "malgo", "pipewire", "auto"
	SampleRate     int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels       int    `mapstructure:"channels" yaml:"channels"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

type RecorderConfig struct {
	Encoding          string `mapstructure:"encoding" yaml:"encoding"` // "wav", "opus"
	Directory         string `mapstructure:"directory" yaml:"directory"`
	ChunkBuffer       int    `mapstructure:"chunk_buffer" yaml:"chunk_buffer"`
	CommandBuffer     int    `mapstructure:"command_buffer" yaml:"command_buffer"`
	BridgeGraceMs     int    `mapstructure:"bridge_grace_ms" yaml:"bridge_grace_ms"`
	FinalizeTimeoutMs int    `mapstructure:"finalize_timeout_ms" yaml:"finalize_timeout_ms"`
}

// HooksConfig holds shell commands run on recorder events. Empty means none.
type HooksConfig struct {
	OnStart string `mapstructure:"on_start" yaml:"on_start"`
	OnStop  string `mapstructure:"on_stop" yaml:"on_stop"`
	OnError string `mapstructure:"on_error" yaml:"on_error"`
}

type FeedbackConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	StartSound string `mapstructure:"start_sound" yaml:"start_sound"`
	StopSound  string `mapstructure:"stop_sound" yaml:"stop_sound"`
	ErrorSound string `mapstructure:"error_sound" yaml:"error_sound"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // "debug", "info", "warn", "error"
	Format     string `mapstructure:"format" yaml:"format"` // "text", "json"
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	format := audio.DefaultFormat()
	return &Config{
		Audio: AudioConfig{
			Backend:        string(audio.BackendTypeAuto),
			SampleRate:     format.SampleRate,
			Channels:       format.Channels,
			PollIntervalMs: int(audio.DefaultPollInterval / time.Millisecond),
		},
		Recorder: RecorderConfig{
			Encoding:          string(encoder.KindWAV),
			Directory:         filepath.Join(os.TempDir(), "dictator"),
			ChunkBuffer:       recorder.DefaultChunkBuffer,
			CommandBuffer:     recorder.DefaultCommandBuffer,
			BridgeGraceMs:     int(recorder.DefaultBridgeGrace / time.Millisecond),
			FinalizeTimeoutMs: int(recorder.DefaultFinalizeTimeout / time.Millisecond),
		},
		Feedback: FeedbackConfig{
			Enabled:    false,
			StartSound: "start.wav",
			StopSound:  "stop.wav",
			ErrorSound: "error.wav",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8765",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/dictator/config.yaml, falling back to
// ~/.config/dictator/config.yaml.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dictator", "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "dictator", "config.yaml")
	}
	return filepath.Join(homeDir, ".config", "dictator", "config.yaml")
}

// Load reads configFile (DefaultPath when empty), creating it from the
// defaults if it does not exist. Values can be overridden with DICTATOR_*
// environment variables, e.g. DICTATOR_AUDIO_SAMPLE_RATE.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		configFile = DefaultPath()
	}
	configFile = expandPath(configFile)

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := WriteDefault(configFile); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	// Set environment variable prefix
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Recorder.Directory = expandPath(cfg.Recorder.Directory)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see keys missing
// from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.poll_interval_ms", d.Audio.PollIntervalMs)

	v.SetDefault("recorder.encoding", d.Recorder.Encoding)
	v.SetDefault("recorder.directory", d.Recorder.Directory)
	v.SetDefault("recorder.chunk_buffer", d.Recorder.ChunkBuffer)
	v.SetDefault("recorder.command_buffer", d.Recorder.CommandBuffer)
	v.SetDefault("recorder.bridge_grace_ms", d.Recorder.BridgeGraceMs)
	v.SetDefault("recorder.finalize_timeout_ms", d.Recorder.FinalizeTimeoutMs)

	v.SetDefault("hooks.on_start", d.Hooks.OnStart)
	v.SetDefault("hooks.on_stop", d.Hooks.OnStop)
	v.SetDefault("hooks.on_error", d.Hooks.OnError)

	v.SetDefault("feedback.enabled", d.Feedback.Enabled)
	v.SetDefault("feedback.start_sound", d.Feedback.StartSound)
	v.SetDefault("feedback.stop_sound", d.Feedback.StopSound)
	v.SetDefault("feedback.error_sound", d.Feedback.ErrorSound)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	v.SetDefault("server.listen", d.Server.Listen)
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left untouched.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("failed to create config file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if _, err := audio.NewBackend(c.Audio.Backend); err != nil {
		return fmt.Errorf("audio.backend: %w", err)
	}
	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.Audio.PollIntervalMs <= 0 {
		return fmt.Errorf("audio.poll_interval_ms must be > 0, got: %d", c.Audio.PollIntervalMs)
	}

	kind, err := encoder.ParseKind(c.Recorder.Encoding)
	if err != nil {
		return fmt.Errorf("recorder.encoding: %w", err)
	}
	if _, err := encoder.New(kind, c.Format()); err != nil {
		return fmt.Errorf("recorder.encoding '%s' with %s: %w", kind, c.Format(), err)
	}
	if c.Recorder.Directory == "" {
		return fmt.Errorf("recorder.directory is required")
	}
	if c.Recorder.ChunkBuffer <= 0 {
		return fmt.Errorf("recorder.chunk_buffer must be > 0, got: %d", c.Recorder.ChunkBuffer)
	}
	if c.Recorder.CommandBuffer <= 0 {
		return fmt.Errorf("recorder.command_buffer must be > 0, got: %d", c.Recorder.CommandBuffer)
	}
	if c.Recorder.BridgeGraceMs <= 0 {
		return fmt.Errorf("recorder.bridge_grace_ms must be > 0, got: %d", c.Recorder.BridgeGraceMs)
	}
	if c.Recorder.FinalizeTimeoutMs <= 0 {
		return fmt.Errorf("recorder.finalize_timeout_ms must be > 0, got: %d", c.Recorder.FinalizeTimeoutMs)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got: %s", c.Logging.Format)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 {
		return fmt.Errorf("logging.max_size_mb and logging.max_backups must be >= 0")
	}

	return nil
}

// Format returns the capture format described by the audio section.
func (c *Config) Format() audio.Format {
	return audio.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels}
}

// RecorderOptions maps the config onto recorder options. The event bus is
// left for the caller to set.
func (c *Config) RecorderOptions() recorder.Options {
	return recorder.Options{
		Format:          c.Format(),
		Encoding:        encoder.Kind(strings.ToLower(strings.TrimSpace(c.Recorder.Encoding))),
		Directory:       c.Recorder.Directory,
		ChunkBuffer:     c.Recorder.ChunkBuffer,
		CommandBuffer:   c.Recorder.CommandBuffer,
		PollInterval:    time.Duration(c.Audio.PollIntervalMs) * time.Millisecond,
		BridgeGrace:     time.Duration(c.Recorder.BridgeGraceMs) * time.Millisecond,
		FinalizeTimeout: time.Duration(c.Recorder.FinalizeTimeoutMs) * time.Millisecond,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
