package recorder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/audio/audiotest"
	"github.com/audiolibrelab/dictator/internal/encoder"
	"github.com/audiolibrelab/dictator/internal/recorder"
)

// ============================================================================
// Helpers
// ============================================================================

func runRecorder(t *testing.T, backend audio.Backend, opts recorder.Options) (recorder.Handle, context.CancelFunc, *recorder.Recorder) {
	t.Helper()
	if opts.Directory == "" {
		opts.Directory = t.TempDir()
	}
	if opts.BridgeGrace == 0 {
		opts.BridgeGrace = time.Second
	}
	rec := recorder.New(backend, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	t.Cleanup(func() {
		cancel()
		select {
		case <-rec.Done():
		case <-time.After(5 * time.Second):
			t.Error("recorder did not shut down")
		}
	})
	return rec.Handle(), cancel, rec
}

func status(t *testing.T, h recorder.Handle) recorder.Status {
	t.Helper()
	snap, err := h.Status(context.Background())
	require.NoError(t, err)
	return snap.Status
}

// statusOf is safe to call from require.Eventually conditions.
func statusOf(h recorder.Handle) recorder.Status {
	snap, err := h.Status(context.Background())
	if err != nil {
		return ""
	}
	return snap.Status
}

func waitRecording(t *testing.T, h recorder.Handle, backend *audiotest.Backend) {
	t.Helper()
	require.Eventually(t, func() bool {
		return statusOf(h) == recorder.StatusRecording && backend.IsOpen()
	}, 2*time.Second, time.Millisecond)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readSamples(t *testing.T, path string) []int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	d := wav.NewDecoder(f)
	require.True(t, d.IsValidFile())
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	return buf.Data
}

// memEncoder keeps chunks in memory and fails on demand.
type memEncoder struct {
	mu          sync.Mutex
	path        string
	chunks      []audio.Chunk
	startErr    error
	finalizeErr error
	failOnWrite int
	writes      int
	finalized   bool
}

func (e *memEncoder) Start(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.path = path
	return os.WriteFile(path, nil, 0644)
}

func (e *memEncoder) WriteChunk(chunk audio.Chunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return encoder.ErrFinalized
	}
	e.writes++
	if e.failOnWrite > 0 && e.writes >= e.failOnWrite {
		return errors.New("no space left on device")
	}
	e.chunks = append(e.chunks, chunk)
	return nil
}

func (e *memEncoder) Finalize(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalized = true
	if e.finalizeErr != nil {
		return "", e.finalizeErr
	}
	return e.path, nil
}

func (e *memEncoder) samples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.chunks {
		n += len(c)
	}
	return n
}

// encoderQueue hands out prepared encoders, one per session.
type encoderQueue struct {
	mu   sync.Mutex
	encs []*memEncoder
	made int
}

func (q *encoderQueue) factory(audio.Format) (encoder.Encoder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.made >= len(q.encs) {
		return &memEncoder{}, nil
	}
	enc := q.encs[q.made]
	q.made++
	return enc, nil
}

// ============================================================================
// Session lifecycle
// ============================================================================

func TestRecorder_EndToEndThreeChunks(t *testing.T) {
	backend := audiotest.New()
	dir := t.TempDir()
	h, _, _ := runRecorder(t, backend, recorder.Options{
		Format:    audio.Format{SampleRate: 16000, Channels: 1},
		Directory: dir,
	})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)

	var pushed []float32
	for i := 0; i < 3; i++ {
		chunk := audiotest.Ramp(8000)
		pushed = append(pushed, chunk...)
		require.True(t, backend.Push(chunk))
	}

	rec, err := h.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 24000, rec.Samples)
	assert.Equal(t, 1500*time.Millisecond, rec.Duration)
	assert.Equal(t, encoder.KindWAV, rec.Encoding)
	assert.Equal(t, dir, filepath.Dir(rec.Path))
	assert.Zero(t, rec.Dropped)
	assert.False(t, rec.Truncated)
	assert.False(t, backend.IsOpen())

	data := readSamples(t, rec.Path)
	require.Len(t, data, 24000)
	for i, s := range pushed {
		if int16(data[i]) != encoder.Quantize(s) {
			t.Fatalf("sample %d: got %d, want %d", i, data[i], encoder.Quantize(s))
		}
	}
	assert.Equal(t, recorder.StatusIdle, status(t, h))
}

func TestRecorder_StopWhileIdle(t *testing.T) {
	backend := audiotest.New()
	dir := t.TempDir()
	h, _, _ := runRecorder(t, backend, recorder.Options{Directory: dir})

	rec, err := h.Stop(context.Background())
	assert.ErrorIs(t, err, recorder.ErrNoActiveRecording)
	assert.Nil(t, rec)
	assert.Empty(t, listDir(t, dir))
	assert.Equal(t, 0, backend.Opens())
}

func TestRecorder_DoubleStartKeepsOneSession(t *testing.T) {
	backend := audiotest.New()
	dir := t.TempDir()
	h, _, _ := runRecorder(t, backend, recorder.Options{Directory: dir})

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)

	snap, err := h.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Session)
	firstID := snap.Session.ID

	require.True(t, backend.Push(audiotest.Ramp(4000)))
	require.NoError(t, h.Start(context.Background()))

	snap, err = h.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, firstID, snap.Session.ID, "in-flight session is unaffected")

	rec, err := h.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, firstID, rec.ID)
	assert.Equal(t, 4000, rec.Samples)
	assert.Equal(t, 1, backend.Opens())
	assert.Len(t, listDir(t, dir), 1)
}

func TestRecorder_StopDrainsSamplesNotYetChunked(t *testing.T) {
	backend := audiotest.New()
	format := audio.DefaultFormat()
	h, _, _ := runRecorder(t, backend, recorder.Options{
		Format:       format,
		PollInterval: time.Hour,
		BridgeGrace:  time.Second,
	})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)

	// Two and a half chunks: the trailing half never forms a whole chunk on its own.
	total := format.ChunkSamples()*2 + format.ChunkSamples()/2
	require.True(t, backend.Push(audiotest.Ramp(total)))

	rec, err := h.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total, rec.Samples)
	assert.Len(t, readSamples(t, rec.Path), total)
}

func TestRecorder_ConsecutiveSessionsUseFreshFiles(t *testing.T) {
	backend := audiotest.New()
	dir := t.TempDir()
	h, _, _ := runRecorder(t, backend, recorder.Options{Directory: dir})

	var paths []string
	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Start(context.Background()))
		waitRecording(t, h, backend)
		require.True(t, backend.Push(audiotest.Ramp(1000*i)))

		rec, err := h.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1000*i, rec.Samples, "session %d only contains its own audio", i)
		paths = append(paths, rec.Path)
	}

	assert.Len(t, listDir(t, dir), 3)
	assert.NotEqual(t, paths[0], paths[1])
	assert.NotEqual(t, paths[1], paths[2])
}

func TestRecorder_StereoFormat(t *testing.T) {
	backend := audiotest.New()
	format := audio.Format{SampleRate: 48000, Channels: 2}
	h, _, _ := runRecorder(t, backend, recorder.Options{Format: format})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)
	assert.Equal(t, format, backend.Format())

	require.True(t, backend.Push(audiotest.Ramp(format.ChunkSamples()+200)))
	rec, err := h.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, format.ChunkSamples()+200, rec.Samples)
	assert.Len(t, readSamples(t, rec.Path), rec.Samples)
}

// ============================================================================
// Failures
// ============================================================================

func TestRecorder_DeviceErrorLeavesRecorderIdle(t *testing.T) {
	backend := audiotest.New()
	backend.SetOpenError(errors.New("no input device"))
	dir := t.TempDir()
	h, _, _ := runRecorder(t, backend, recorder.Options{Directory: dir})

	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, recorder.StatusIdle, status(t, h))
	assert.Empty(t, listDir(t, dir), "partial file is removed")

	_, err := h.Stop(context.Background())
	assert.ErrorIs(t, err, recorder.ErrNoActiveRecording)

	// The failure does not leak into the next session.
	backend.SetOpenError(nil)
	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)
	_, err = h.Stop(context.Background())
	require.NoError(t, err)
}

func TestRecorder_EncoderStartFailure(t *testing.T) {
	backend := audiotest.New()
	queue := &encoderQueue{encs: []*memEncoder{{startErr: errors.New("read-only file system")}}}
	h, _, _ := runRecorder(t, backend, recorder.Options{NewEncoder: queue.factory})

	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, recorder.StatusIdle, status(t, h))
	assert.Equal(t, 0, backend.Opens(), "device is not opened when the encoder fails")
}

func TestRecorder_WriteFailureDegradesSession(t *testing.T) {
	backend := audiotest.New()
	format := audio.Format{SampleRate: 1000, Channels: 1}
	failing := &memEncoder{failOnWrite: 2}
	queue := &encoderQueue{encs: []*memEncoder{failing}}
	h, _, _ := runRecorder(t, backend, recorder.Options{Format: format, NewEncoder: queue.factory})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)

	require.True(t, backend.Push(make([]float32, 3*format.ChunkSamples())))
	require.Eventually(t, func() bool {
		return statusOf(h) == recorder.StatusError
	}, 2*time.Second, time.Millisecond)
	assert.False(t, backend.IsOpen(), "capture stops after a write failure")

	snap, err := h.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Session)
	assert.NotEmpty(t, snap.Session.Error)

	rec, err := h.Stop(context.Background())
	require.NoError(t, err, "stop salvages what was written")
	assert.True(t, rec.Truncated)
	assert.Equal(t, format.ChunkSamples(), rec.Samples)
	assert.Equal(t, format.ChunkSamples(), failing.samples())
	assert.Equal(t, recorder.StatusIdle, status(t, h))

	// next session starts cleanly
	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)
	_, err = h.Stop(context.Background())
	require.NoError(t, err)
}

func TestRecorder_StartAfterWriteFailureFinalizesDegradedSession(t *testing.T) {
	backend := audiotest.New()
	format := audio.Format{SampleRate: 1000, Channels: 1}
	failing := &memEncoder{failOnWrite: 1}
	queue := &encoderQueue{encs: []*memEncoder{failing}}
	h, _, _ := runRecorder(t, backend, recorder.Options{Format: format, NewEncoder: queue.factory})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)
	require.True(t, backend.Push(make([]float32, format.ChunkSamples())))
	require.Eventually(t, func() bool {
		return statusOf(h) == recorder.StatusError
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)

	failing.mu.Lock()
	assert.True(t, failing.finalized)
	failing.mu.Unlock()
	assert.Equal(t, 2, backend.Opens())
}

func TestRecorder_FinalizeFailureIsReported(t *testing.T) {
	backend := audiotest.New()
	diskFull := errors.New("disk full")
	queue := &encoderQueue{encs: []*memEncoder{{finalizeErr: diskFull}}}
	h, _, _ := runRecorder(t, backend, recorder.Options{NewEncoder: queue.factory})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)

	rec, err := h.Stop(context.Background())
	assert.ErrorIs(t, err, diskFull)
	assert.Nil(t, rec)
	assert.Equal(t, recorder.StatusIdle, status(t, h))
}

// ============================================================================
// Handle and shutdown
// ============================================================================

func TestHandle_FailsAfterRecorderExit(t *testing.T) {
	backend := audiotest.New()
	h, cancel, rec := runRecorder(t, backend, recorder.Options{})

	cancel()
	<-rec.Done()

	assert.ErrorIs(t, h.Start(context.Background()), recorder.ErrRecorderClosed)
	_, err := h.Stop(context.Background())
	assert.ErrorIs(t, err, recorder.ErrRecorderClosed)
	_, err = h.Status(context.Background())
	assert.ErrorIs(t, err, recorder.ErrRecorderClosed)
}

func TestHandle_CopiesShareTheRecorder(t *testing.T) {
	backend := audiotest.New()
	h, _, _ := runRecorder(t, backend, recorder.Options{})
	clone := h

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, clone, backend)

	_, err := clone.Stop(context.Background())
	require.NoError(t, err)
	_, err = h.Stop(context.Background())
	assert.ErrorIs(t, err, recorder.ErrNoActiveRecording)
}

func TestHandle_StopHonoursContext(t *testing.T) {
	// A recorder that never runs cannot answer.
	rec := recorder.New(audiotest.New(), recorder.Options{CommandBuffer: 1})
	h := rec.Handle()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecorder_RunTwiceFails(t *testing.T) {
	h, _, rec := runRecorder(t, audiotest.New(), recorder.Options{})

	// once Status answers, the first Run owns the event loop
	assert.Equal(t, recorder.StatusIdle, status(t, h))
	assert.Error(t, rec.Run(context.Background()))
}

func TestRecorder_ShutdownFinalizesActiveSession(t *testing.T) {
	backend := audiotest.New()
	dir := t.TempDir()
	h, cancel, rec := runRecorder(t, backend, recorder.Options{Directory: dir})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)
	require.True(t, backend.Push(audiotest.Ramp(3000)))

	cancel()
	<-rec.Done()

	files := listDir(t, dir)
	require.Len(t, files, 1)
	assert.Len(t, readSamples(t, filepath.Join(dir, files[0])), 3000)
	assert.False(t, backend.IsOpen())
}

func TestRecorder_PublishesLifecycleEvents(t *testing.T) {
	backend := audiotest.New()
	bus := EventBus.New()

	started := make(chan recorder.StartedEvent, 1)
	stopped := make(chan recorder.StoppedEvent, 1)
	failed := make(chan recorder.FailedEvent, 1)
	require.NoError(t, bus.Subscribe(recorder.TopicStarted, func(e recorder.StartedEvent) { started <- e }))
	require.NoError(t, bus.Subscribe(recorder.TopicStopped, func(e recorder.StoppedEvent) { stopped <- e }))
	require.NoError(t, bus.Subscribe(recorder.TopicFailed, func(e recorder.FailedEvent) { failed <- e }))

	h, _, _ := runRecorder(t, backend, recorder.Options{Bus: bus})

	require.NoError(t, h.Start(context.Background()))
	waitRecording(t, h, backend)
	rec, err := h.Stop(context.Background())
	require.NoError(t, err)

	s := <-started
	assert.Equal(t, rec.ID, s.SessionID)
	assert.Equal(t, rec.Path, s.Path)
	e := <-stopped
	assert.Equal(t, rec.Path, e.Recording.Path)

	backend.SetOpenError(errors.New("device busy"))
	require.NoError(t, h.Start(context.Background()))
	f := <-failed
	assert.Equal(t, "start", f.Stage)
	assert.Error(t, f.Err)
}

func TestIsRecordingFile(t *testing.T) {
	assert.True(t, recorder.IsRecordingFile("dictator-0b8f.wav"))
	assert.True(t, recorder.IsRecordingFile("dictator-0b8f.OPUS"))
	assert.False(t, recorder.IsRecordingFile("song.wav"), "foreign audio")
	assert.False(t, recorder.IsRecordingFile("dictator-notes.txt"), "unknown extension")
	assert.False(t, recorder.IsRecordingFile("config.yaml"))
}
