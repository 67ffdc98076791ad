// Package recorder owns the recording session lifecycle. A single actor
// goroutine holds the input stream and the encoder; everything else talks
// to it through a Handle.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/encoder"
)

const (
	DefaultChunkBuffer     = 100
	DefaultCommandBuffer   = 10
	DefaultBridgeGrace     = 50 * time.Millisecond
	DefaultFinalizeTimeout = 10 * time.Second

	filePrefix = "dictator-"
)

// IsRecordingFile reports whether name is a file name a Recorder writes:
// the dictator- prefix and a known encoding extension.
func IsRecordingFile(name string) bool {
	if !strings.HasPrefix(name, filePrefix) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == encoder.KindWAV.Extension() || ext == encoder.KindOpus.Extension()
}

// Options configures a Recorder. Zero fields take their defaults.
type Options struct {
	Format   audio.Format
	Encoding encoder.Kind
	// NewEncoder overrides the encoder built from Encoding.
	NewEncoder encoder.Factory
	// Directory receives the recordings; empty means os.TempDir().
	Directory string

	ChunkBuffer     int
	CommandBuffer   int
	PollInterval    time.Duration
	BridgeGrace     time.Duration
	FinalizeTimeout time.Duration

	// Bus receives lifecycle events when set.
	Bus EventBus.Bus
}

func (o Options) withDefaults() Options {
	if o.Format == (audio.Format{}) {
		o.Format = audio.DefaultFormat()
	}
	if o.Encoding == "" {
		o.Encoding = encoder.KindWAV
	}
	if o.NewEncoder == nil {
		o.NewEncoder = encoder.FactoryFor(o.Encoding)
	}
	if o.Directory == "" {
		o.Directory = os.TempDir()
	}
	if o.ChunkBuffer <= 0 {
		o.ChunkBuffer = DefaultChunkBuffer
	}
	if o.CommandBuffer <= 0 {
		o.CommandBuffer = DefaultCommandBuffer
	}
	if o.PollInterval <= 0 {
		o.PollInterval = audio.DefaultPollInterval
	}
	if o.BridgeGrace <= 0 {
		o.BridgeGrace = DefaultBridgeGrace
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = DefaultFinalizeTimeout
	}
	return o
}

type session struct {
	id        string
	path      string
	startedAt time.Time
	capture   *audio.Capture
	enc       encoder.Encoder
	samples   int
	dropped   uint64
	writeErr  error
}

// Recorder is the actor owning the input stream and encoder of the current
// session. All its fields are confined to the goroutine executing Run.
type Recorder struct {
	backend audio.Backend
	opts    Options

	cmds    chan command
	done    chan struct{}
	running atomic.Bool

	pipe      *audio.ChunkPipe
	session   *session
	recording bool
	status    Status
}

// New creates a recorder. Nothing is opened until Run receives a Start.
func New(backend audio.Backend, opts Options) *Recorder {
	opts = opts.withDefaults()
	return &Recorder{
		backend: backend,
		opts:    opts,
		cmds:    make(chan command, opts.CommandBuffer),
		done:    make(chan struct{}),
		pipe:    audio.NewChunkPipe(opts.ChunkBuffer),
		status:  StatusIdle,
	}
}

// Handle returns a handle for sending commands to this recorder.
func (r *Recorder) Handle() Handle {
	return Handle{cmds: r.cmds, done: r.done}
}

// Done is closed when Run has returned.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Run executes the event loop on the calling goroutine until ctx is
// cancelled. The goroutine stays locked to its OS thread because some audio
// APIs require a stream to be closed on the thread that opened it. An
// active session is finalized before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("recorder is already running")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)

	slog.Info("Recorder started",
		"format", r.opts.Format.String(),
		"encoding", r.opts.Encoding,
		"directory", r.opts.Directory)

	for {
		// Chunks are only read while recording; a nil channel never fires.
		var chunks <-chan audio.Chunk
		if r.recording {
			chunks = r.pipe.C()
		}

		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case cmd := <-r.cmds:
			r.dispatch(cmd)
		case chunk := <-chunks:
			r.write(chunk)
		}
	}
}

func (r *Recorder) dispatch(cmd command) {
	slog.Debug("Recorder command received", "command", cmd.name(), "status", r.status)

	switch c := cmd.(type) {
	case startCommand:
		r.start()
	case stopCommand:
		if r.session == nil {
			c.reply <- stopResult{err: ErrNoActiveRecording}
			return
		}
		rec, err := r.finish()
		c.reply <- stopResult{recording: rec, err: err}
	case statusCommand:
		c.reply <- r.snapshot()
	}
}

func (r *Recorder) start() {
	if r.recording {
		slog.Warn("Start ignored", "reason", ErrAlreadyRecording, "session_id", r.session.id)
		return
	}

	// A session degraded by a write failure is salvaged before a new one starts.
	if r.session != nil {
		slog.Warn("Finalizing degraded session before starting a new one", "session_id", r.session.id)
		if rec, err := r.finish(); err == nil {
			slog.Info("Degraded recording saved", "path", rec.Path)
		}
	}

	id := uuid.NewString()
	path := filepath.Join(r.opts.Directory, filePrefix+id+r.opts.Encoding.Extension())

	if err := os.MkdirAll(r.opts.Directory, 0755); err != nil {
		r.startFailed(id, path, fmt.Errorf("failed to create recording directory: %w", err))
		return
	}

	enc, err := r.opts.NewEncoder(r.opts.Format)
	if err != nil {
		r.startFailed(id, path, fmt.Errorf("failed to create encoder: %w", err))
		return
	}
	if err := enc.Start(path); err != nil {
		r.startFailed(id, path, fmt.Errorf("failed to start encoder: %w", err))
		return
	}

	capture, err := audio.Start(r.backend, r.opts.Format, r.pipe, audio.WithPollInterval(r.opts.PollInterval))
	if err != nil {
		r.discard(enc, path)
		r.startFailed(id, path, err)
		return
	}

	now := time.Now()
	r.session = &session{
		id:        id,
		path:      path,
		startedAt: now,
		capture:   capture,
		enc:       enc,
	}
	r.recording = true
	r.status = StatusRecording

	slog.Info("Recording started", "session_id", id, "path", path)
	r.publish(TopicStarted, StartedEvent{SessionID: id, Path: path, StartedAt: now})
}

func (r *Recorder) startFailed(id, path string, err error) {
	slog.Error("Failed to start recording", "session_id", id, "error", err)
	r.status = StatusIdle
	r.publish(TopicFailed, FailedEvent{SessionID: id, Path: path, Stage: "start", Err: err})
}

// discard finalizes an encoder that never received audio and removes its file.
func (r *Recorder) discard(enc encoder.Encoder, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.FinalizeTimeout)
	defer cancel()
	if _, err := enc.Finalize(ctx); err != nil {
		slog.Debug("Finalize of discarded encoder failed", "path", path, "error", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove discarded recording", "path", path, "error", err)
	}
}

func (r *Recorder) write(chunk audio.Chunk) {
	s := r.session
	if err := s.enc.WriteChunk(chunk); err != nil {
		// A failed write ends capture; the file is kept for the next Stop.
		slog.Error("Failed to write audio chunk, stopping capture", "session_id", s.id, "error", err)
		s.writeErr = err
		r.recording = false
		r.closeCapture(s)
		r.replacePipe()
		r.status = StatusError
		r.publish(TopicFailed, FailedEvent{SessionID: s.id, Path: s.path, Stage: "write", Err: err})
		return
	}
	s.samples += len(chunk)
}

// finish stops the current session and finalizes its file. The order of
// these steps is what guarantees no captured audio is lost.
func (r *Recorder) finish() (*Recording, error) {
	s := r.session
	r.session = nil

	// 1. no more chunks are forwarded from the event loop
	r.recording = false

	// 2. stop the hardware callback, then 3. drain what the bridge still delivers
	if s.capture != nil {
		r.closeCapture(s)
	}

	// 4. drop the old receiver so a lingering bridge exits on its next send
	r.replacePipe()

	// 5. finalize
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.FinalizeTimeout)
	defer cancel()
	path, err := s.enc.Finalize(ctx)
	r.status = StatusIdle

	truncated := false
	if err != nil {
		if !errors.Is(err, encoder.ErrTruncated) || path == "" {
			err = fmt.Errorf("failed to finalize recording: %w", err)
			slog.Error("Recording lost", "session_id", s.id, "path", s.path, "error", err)
			r.publish(TopicFailed, FailedEvent{SessionID: s.id, Path: s.path, Stage: "finalize", Err: err})
			return nil, err
		}
		slog.Warn("Recording is truncated", "session_id", s.id, "path", path, "error", err)
		truncated = true
	}
	if s.writeErr != nil {
		truncated = true
	}

	stopped := time.Now()
	rec := &Recording{
		ID:        s.id,
		Path:      path,
		Format:    r.opts.Format,
		Encoding:  r.opts.Encoding,
		Samples:   s.samples,
		Duration:  r.opts.Format.Duration(s.samples),
		StartedAt: s.startedAt,
		StoppedAt: stopped,
		Dropped:   s.dropped,
		Truncated: truncated,
	}

	if rec.Dropped > 0 {
		slog.Warn("Samples dropped by ring buffer overflow", "session_id", s.id, "dropped", rec.Dropped)
	}
	slog.Info("Recording stopped",
		"session_id", s.id,
		"path", path,
		"samples", rec.Samples,
		"duration", rec.Duration)
	r.publish(TopicStopped, StoppedEvent{Recording: *rec})
	return rec, nil
}

// closeCapture drops the stream and writes every chunk the bridge hands
// over until it acknowledges its exit or the grace period runs out.
func (r *Recorder) closeCapture(s *session) {
	capture := s.capture
	s.capture = nil

	if err := capture.Close(); err != nil {
		slog.Warn("Failed to close input stream", "session_id", s.id, "error", err)
	}

	grace := time.NewTimer(r.opts.BridgeGrace)
	defer grace.Stop()

	chunks := r.pipe.C()
drain:
	for {
		select {
		case chunk := <-chunks:
			r.drainChunk(s, chunk)
		case <-capture.Done():
			break drain
		case <-grace.C:
			slog.Warn("Bridge did not exit within grace period", "session_id", s.id, "grace", r.opts.BridgeGrace)
			break drain
		}
	}
	for {
		select {
		case chunk := <-chunks:
			r.drainChunk(s, chunk)
		default:
			s.dropped = capture.Dropped()
			return
		}
	}
}

func (r *Recorder) drainChunk(s *session, chunk audio.Chunk) {
	if s.writeErr != nil {
		return
	}
	if err := s.enc.WriteChunk(chunk); err != nil {
		slog.Error("Failed to write drained chunk", "session_id", s.id, "error", err)
		s.writeErr = err
		return
	}
	s.samples += len(chunk)
}

// replacePipe installs a fresh pipe for the next session and drops the old one.
func (r *Recorder) replacePipe() {
	old := r.pipe
	r.pipe = audio.NewChunkPipe(r.opts.ChunkBuffer)
	old.Drop()
}

func (r *Recorder) snapshot() Snapshot {
	snap := Snapshot{Status: r.status}
	if s := r.session; s != nil {
		snap.Session = &SessionInfo{
			ID:        s.id,
			Path:      s.path,
			StartedAt: s.startedAt,
			Format:    r.opts.Format,
			Encoding:  r.opts.Encoding,
			Samples:   s.samples,
		}
		if s.writeErr != nil {
			snap.Session.Error = s.writeErr.Error()
		}
	}
	return snap
}

func (r *Recorder) shutdown() {
	if r.session == nil {
		slog.Info("Recorder stopped")
		return
	}
	slog.Info("Recorder stopping, finalizing active session", "session_id", r.session.id)
	if rec, err := r.finish(); err == nil {
		slog.Info("Active recording saved on shutdown", "path", rec.Path)
	}
}

func (r *Recorder) publish(topic string, event interface{}) {
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(topic, event)
	}
}
