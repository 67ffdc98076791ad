package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMalgo    BackendType = "malgo"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// SampleFunc receives interleaved samples from the audio driver thread.
// Implementations must not block, allocate or retain the slice.
type SampleFunc func(samples []float32)

// Stream is an open input stream. The sample callback is never invoked
// after Close returns.
type Stream interface {
	Close() error
}

// Source describes a capture device reported by a backend.
type Source struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Backend defines the interface for audio backend implementations
type Backend interface {
	// Open the default input device and start delivering samples.
	Open(format Format, onSamples SampleFunc) (Stream, error)

	// List available capture devices
	ListSources() ([]Source, error)

	// Get the backend type
	GetType() BackendType
}

// NewBackend creates the backend selected by name ("malgo", "pipewire",
// "auto" or empty).
func NewBackend(name string) (Backend, error) {
	backendType, err := determineBackend(name)
	if err != nil {
		return nil, err
	}

	switch backendType {
	case BackendTypeMalgo:
		return &MalgoBackend{}, nil
	case BackendTypePipeWire:
		return &PipeWireBackend{}, nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", backendType)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(name string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(BackendTypeAuto), string(BackendTypeMalgo):
		// miniaudio picks the platform API itself
		return BackendTypeMalgo, nil
	case string(BackendTypePipeWire):
		return BackendTypePipeWire, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q (valid: %s, %s, %s)",
			name, BackendTypeAuto, BackendTypeMalgo, BackendTypePipeWire)
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypeMalgo}
	if _, err := exec.LookPath(pwRecordBinary); err == nil {
		backends = append(backends, BackendTypePipeWire)
	}
	return backends
}
