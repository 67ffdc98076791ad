// Package audiotest provides an in-memory audio backend for tests.
package audiotest

import (
	"errors"
	"sync"

	"github.com/audiolibrelab/dictator/internal/audio"
)

// ErrDeviceBusy is returned by Open while another stream is still open.
var ErrDeviceBusy = errors.New("device busy")

// Backend is a fake capture device. Tests feed it samples with Push, which
// invokes the installed callback synchronously, as a driver thread would.
type Backend struct {
	mu        sync.Mutex
	onSamples audio.SampleFunc
	format    audio.Format
	opens     int
	closes    int
	openErr   error
	sources   []audio.Source
}

// New returns a fake backend exposing a single default device.
func New() *Backend {
	return &Backend{
		sources: []audio.Source{{ID: "fake-0", Name: "Fake Microphone", IsDefault: true}},
	}
}

// SetOpenError makes subsequent Open calls fail with err (nil clears it).
func (b *Backend) SetOpenError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

func (b *Backend) Open(format audio.Format, onSamples audio.SampleFunc) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openErr != nil {
		return nil, b.openErr
	}
	if b.onSamples != nil {
		return nil, ErrDeviceBusy
	}
	b.onSamples = onSamples
	b.format = format
	b.opens++
	return &stream{b: b}, nil
}

func (b *Backend) ListSources() ([]audio.Source, error) {
	return b.sources, nil
}

func (b *Backend) GetType() audio.BackendType {
	return "fake"
}

// Push delivers samples to the open stream. It reports false when no
// stream is open, in which case the samples are discarded.
func (b *Backend) Push(samples []float32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.onSamples == nil {
		return false
	}
	b.onSamples(samples)
	return true
}

// IsOpen reports whether a stream is currently open.
func (b *Backend) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onSamples != nil
}

// Opens returns how many streams have been opened.
func (b *Backend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Closes returns how many streams have been closed.
func (b *Backend) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// Format returns the format of the most recently opened stream.
func (b *Backend) Format() audio.Format {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

type stream struct {
	b    *Backend
	once sync.Once
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		s.b.onSamples = nil
		s.b.closes++
		s.b.mu.Unlock()
	})
	return nil
}

// Ramp returns n samples stepping evenly through [-1, 1), handy for checking order.
func Ramp(n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i%2000)/1000 - 1
	}
	return samples
}
