package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/config"
	"github.com/audiolibrelab/dictator/internal/feedback"
	"github.com/audiolibrelab/dictator/internal/hooks"
	"github.com/audiolibrelab/dictator/internal/recorder"
)

// ErrNoRecordings is returned when no finished recording can be found.
var ErrNoRecordings = errors.New("no recordings found")

const (
	commandTimeout  = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Service represents the core dictation service interface
type Service interface {
	// Recording operations
	StartRecording() error
	StopRecording() (*recorder.Recording, error)
	Toggle() (*ToggleResult, error)
	GetRecordingStatus() (recorder.Status, *recorder.SessionInfo)

	// Information operations
	LatestRecording() (*RecordingInfo, error)
	ListRecordings() ([]RecordingInfo, error)
	ListSources() ([]audio.Source, error)
	GetLastError() string
	GetConfig() *config.Config

	Close() error
}

// ToggleResult tells which way a toggle went.
type ToggleResult struct {
	Action    string              `json:"action"` // "started" or "stopped"
	Recording *recorder.Recording `json:"recording,omitempty"`
}

// RecordingInfo contains information about a finished recording file
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
	DownloadURL  string    `json:"download_url"`

	// Details is set for recordings finished by this process.
	Details *recorder.Recording `json:"details,omitempty"`
}

// DictatorService is the main service implementation
type DictatorService struct {
	cfg     *config.Config
	backend audio.Backend
	rec     *recorder.Recorder
	handle  recorder.Handle
	bus     EventBus.Bus
	hooks   *hooks.Runner
	cancel  context.CancelFunc

	stopTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error

	latest      *recorder.Recording
	latestMutex sync.RWMutex

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New starts a recorder on backend and wires hooks and feedback to its events.
func New(cfg *config.Config, backend audio.Backend) (Service, error) {
	bus := EventBus.New()

	runner := hooks.New(cfg.Hooks)
	if err := runner.Subscribe(bus); err != nil {
		return nil, err
	}
	if err := feedback.New(cfg.Feedback).Subscribe(bus); err != nil {
		runner.Close()
		return nil, err
	}

	s := &DictatorService{cfg: cfg, backend: backend, bus: bus, hooks: runner}

	// Synchronous: both handlers only take a lock.
	if err := bus.Subscribe(recorder.TopicStopped, s.onStopped); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", recorder.TopicStopped, err)
	}
	if err := bus.Subscribe(recorder.TopicFailed, s.onFailed); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", recorder.TopicFailed, err)
	}

	opts := cfg.RecorderOptions()
	opts.Bus = bus
	s.rec = recorder.New(backend, opts)
	s.handle = s.rec.Handle()
	s.stopTimeout = opts.FinalizeTimeout + opts.BridgeGrace + commandTimeout

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		if err := s.rec.Run(ctx); err != nil {
			slog.Error("Recorder exited", "error", err)
		}
	}()

	return s, nil
}

// StartRecording asks the recorder to begin a session. A start that fails
// on the device side is reported through GetLastError.
func (s *DictatorService) StartRecording() error {
	slog.Debug("Service.StartRecording called")
	s.clearLastError() // Clear any previous errors when starting a new operation

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := s.handle.Start(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording stops the current recording session
func (s *DictatorService) StopRecording() (*recorder.Recording, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	rec, err := s.handle.Stop(ctx)
	if err != nil {
		if !errors.Is(err, recorder.ErrNoActiveRecording) {
			s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		}
		return nil, err
	}
	s.clearLastError() // Clear error on successful stop
	return rec, nil
}

// Toggle stops an active (or degraded) session, otherwise starts one.
func (s *DictatorService) Toggle() (*ToggleResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	snap, err := s.handle.Status(ctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to read recorder status: %w", err)
	}

	if snap.Session != nil {
		rec, err := s.StopRecording()
		if err != nil {
			return nil, err
		}
		return &ToggleResult{Action: "stopped", Recording: rec}, nil
	}

	if err := s.StartRecording(); err != nil {
		return nil, err
	}
	return &ToggleResult{Action: "started"}, nil
}

// GetRecordingStatus returns the current recording status and session info
func (s *DictatorService) GetRecordingStatus() (recorder.Status, *recorder.SessionInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	snap, err := s.handle.Status(ctx)
	if err != nil {
		slog.Warn("Failed to read recorder status", "error", err)
		return recorder.StatusError, nil
	}
	if snap.Status == recorder.StatusRecording {
		// Auto-clear any previous errors when successfully recording
		s.clearLastError()
	}
	return snap.Status, snap.Session
}

// LatestRecording returns the newest finished recording. Recordings made by
// this process carry their details; otherwise the directory is scanned.
func (s *DictatorService) LatestRecording() (*RecordingInfo, error) {
	s.latestMutex.RLock()
	latest := s.latest
	s.latestMutex.RUnlock()

	if latest != nil {
		if info, err := recordingInfo(latest.Path); err == nil {
			info.Details = latest
			return info, nil
		}
	}

	recordings, err := s.ListRecordings()
	if err != nil {
		return nil, err
	}
	if len(recordings) == 0 {
		return nil, ErrNoRecordings
	}
	return &recordings[0], nil
}

// ListRecordings returns the recordings directory content, newest first.
// The file of an active session is not listed.
func (s *DictatorService) ListRecordings() ([]RecordingInfo, error) {
	dir := s.cfg.Recorder.Directory

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	active := ""
	if _, session := s.GetRecordingStatus(); session != nil {
		active = session.Path
	}

	var recordings []RecordingInfo
	for _, file := range files {
		if file.IsDir() || !recorder.IsRecordingFile(file.Name()) {
			continue
		}
		path := filepath.Join(dir, file.Name())
		if path == active {
			continue
		}

		info, err := recordingInfo(path)
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}
		recordings = append(recordings, *info)
	}

	// Sort by modification time (newest first)
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

// ListSources returns the capture devices the backend can see
func (s *DictatorService) ListSources() ([]audio.Source, error) {
	sources, err := s.backend.ListSources()
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// GetConfig returns the current configuration
func (s *DictatorService) GetConfig() *config.Config {
	return s.cfg
}

// Close stops the recorder, finalizing an active session, and waits for
// running hooks.
func (s *DictatorService) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		timeout := time.NewTimer(shutdownTimeout)
		defer timeout.Stop()

		select {
		case <-s.rec.Done():
		case <-timeout.C:
			s.closeErr = fmt.Errorf("recorder did not stop within %s", shutdownTimeout)
			return
		}

		hooksDone := make(chan struct{})
		go func() {
			s.hooks.Close()
			s.bus.WaitAsync()
			close(hooksDone)
		}()
		select {
		case <-hooksDone:
		case <-timeout.C:
			s.closeErr = fmt.Errorf("hooks did not finish within %s", shutdownTimeout)
		}
	})
	return s.closeErr
}

func (s *DictatorService) onStopped(e recorder.StoppedEvent) {
	rec := e.Recording
	s.latestMutex.Lock()
	s.latest = &rec
	s.latestMutex.Unlock()
}

func (s *DictatorService) onFailed(e recorder.FailedEvent) {
	s.setLastError(fmt.Sprintf("Recording %s failed: %v", e.Stage, e.Err))
}

// GetLastError returns the last error message (thread-safe)
func (s *DictatorService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *DictatorService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *DictatorService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func recordingInfo(path string) (*RecordingInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	return &RecordingInfo{
		Name:         name,
		Path:         path,
		Size:         info.Size(),
		SizeHuman:    formatBytes(info.Size()),
		ModTime:      info.ModTime(),
		ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
		Extension:    strings.TrimPrefix(filepath.Ext(name), "."),
		DownloadURL:  "/api/recordings/" + name,
	}, nil
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
