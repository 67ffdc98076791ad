package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/audiolibrelab/dictator/internal/audio"
)

// queueSize is how many chunks may wait for the I/O goroutine before
// WriteChunk blocks. At 0.5 s per chunk this is over half a minute of audio.
const queueSize = 64

// sink is the file-format specific part of an encoder. Its methods are only
// ever called from the I/O goroutine.
type sink interface {
	write(pcm []int16) error
	close() error
}

type sinkOpener func(path string, format audio.Format) (sink, error)

type writeCmd struct {
	pcm []int16
}

type finalizeCmd struct {
	reply chan error
}

// streamEncoder runs one sink on a dedicated, OS-thread-locked goroutine.
type streamEncoder struct {
	format audio.Format
	open   sinkOpener

	path      string
	started   bool
	finalized bool

	cmds   chan interface{}
	exited chan struct{}

	// failure is set by the I/O goroutine when a write fails.
	mu      sync.Mutex
	failure error
}

func newStreamEncoder(format audio.Format, open sinkOpener) *streamEncoder {
	return &streamEncoder{
		format: format,
		open:   open,
		cmds:   make(chan interface{}, queueSize),
		exited: make(chan struct{}),
	}
}

func (e *streamEncoder) Start(path string) error {
	if e.finalized {
		return ErrFinalized
	}
	if e.started {
		return fmt.Errorf("encoder already started for %s", e.path)
	}

	ready := make(chan error, 1)
	go e.run(path, ready)
	if err := <-ready; err != nil {
		e.finalized = true
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	e.path = path
	e.started = true
	return nil
}

func (e *streamEncoder) WriteChunk(chunk audio.Chunk) error {
	if e.finalized {
		return ErrFinalized
	}
	if !e.started {
		return ErrNotStarted
	}
	if err := e.failed(); err != nil {
		return fmt.Errorf("previous write failed: %w", err)
	}

	cmd := writeCmd{pcm: QuantizeChunk(chunk)}
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.exited:
		return ErrClosed
	}
}

func (e *streamEncoder) Finalize(ctx context.Context) (string, error) {
	if e.finalized {
		return "", ErrFinalized
	}
	e.finalized = true
	if !e.started {
		return "", ErrNotStarted
	}

	reply := make(chan error, 1)
	select {
	case e.cmds <- finalizeCmd{reply: reply}:
	case <-e.exited:
		return "", ErrClosed
	case <-ctx.Done():
		return "", fmt.Errorf("finalize %s: %w", e.path, ctx.Err())
	}

	select {
	case err := <-reply:
		if err != nil {
			if errors.Is(err, ErrTruncated) {
				return e.path, err
			}
			return "", fmt.Errorf("failed to finalize %s: %w", e.path, err)
		}
		return e.path, nil
	case <-ctx.Done():
		return "", fmt.Errorf("finalize %s: %w", e.path, ctx.Err())
	}
}

func (e *streamEncoder) failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

func (e *streamEncoder) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure == nil {
		e.failure = err
	}
}

// run owns the file for the whole recording.
func (e *streamEncoder) run(path string, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.exited)

	s, err := e.open(path, e.format)
	ready <- err
	if err != nil {
		return
	}
	slog.Debug("Encoder opened", "path", path, "format", e.format.String())

	var writeErr error
	for cmd := range e.cmds {
		switch c := cmd.(type) {
		case writeCmd:
			if writeErr != nil {
				continue
			}
			if err := s.write(c.pcm); err != nil {
				writeErr = err
				e.fail(err)
				slog.Error("Encoder write failed", "path", path, "error", err)
			}
		case finalizeCmd:
			closeErr := s.close()
			switch {
			case closeErr != nil:
				c.reply <- closeErr
			case writeErr != nil:
				c.reply <- fmt.Errorf("%w: %v", ErrTruncated, writeErr)
			default:
				c.reply <- nil
			}
			slog.Debug("Encoder finalized", "path", path)
			return
		}
	}
}
