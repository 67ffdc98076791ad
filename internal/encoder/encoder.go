// Package encoder persists audio chunks to disk incrementally. All file
// system work for one recording happens on a single goroutine locked to its
// OS thread; callers only hand it owned sample buffers.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/audiolibrelab/dictator/internal/audio"
)

var (
	// ErrFinalized is returned by any call made after Finalize.
	ErrFinalized = errors.New("encoder already finalized")
	// ErrNotStarted is returned when chunks arrive before a successful Start.
	ErrNotStarted = errors.New("encoder not started")
	// ErrClosed is returned when the I/O goroutine is no longer running.
	ErrClosed = errors.New("encoder I/O goroutine has exited")
	// ErrTruncated is wrapped by Finalize when an earlier write failed. The
	// file is still closed and its path returned.
	ErrTruncated = errors.New("recording truncated by a write failure")
)

// Encoder accepts chunks incrementally and finalizes them into a file.
// An Encoder is owned by one goroutine and is not safe for concurrent use.
type Encoder interface {
	// Start opens the destination file for the encoder's format.
	Start(path string) error
	// WriteChunk quantizes the chunk and queues it for the I/O goroutine.
	WriteChunk(chunk audio.Chunk) error
	// Finalize flushes and closes the file and returns its path. The
	// encoder cannot be used afterwards.
	Finalize(ctx context.Context) (string, error)
}

// Kind selects the container and codec of an Encoder.
type Kind string

const (
	KindWAV  Kind = "wav"
	KindOpus Kind = "opus"
)

// ParseKind converts a configuration value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindWAV:
		return KindWAV, nil
	case KindOpus:
		return KindOpus, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (valid: %s, %s)", s, KindWAV, KindOpus)
	}
}

// Extension returns the file extension used for recordings of this kind.
func (k Kind) Extension() string {
	switch k {
	case KindOpus:
		return ".opus"
	default:
		return ".wav"
	}
}

// Factory builds a fresh encoder for every recording session.
type Factory func(format audio.Format) (Encoder, error)

// FactoryFor returns a Factory producing encoders of kind.
func FactoryFor(kind Kind) Factory {
	return func(format audio.Format) (Encoder, error) {
		return New(kind, format)
	}
}

// New creates an encoder of the given kind for format.
func New(kind Kind, format audio.Format) (Encoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	switch kind {
	case KindWAV:
		return newStreamEncoder(format, openWAV), nil
	case KindOpus:
		if err := validateOpusFormat(format); err != nil {
			return nil, err
		}
		return newStreamEncoder(format, openOpus), nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", kind)
	}
}
