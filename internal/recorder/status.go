package recorder

import (
	"time"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/encoder"
)

// Status represents the current state of the recorder
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
	// StatusError means a write failed mid-session. Capture has stopped and
	// the next Stop finalizes whatever reached the file.
	StatusError Status = "ERROR"
)

// SessionInfo contains information about the current recording session
type SessionInfo struct {
	ID        string       `json:"id"`
	Path      string       `json:"path"`
	StartedAt time.Time    `json:"started_at"`
	Format    audio.Format `json:"format"`
	Encoding  encoder.Kind `json:"encoding"`
	Samples   int          `json:"samples"`
	Error     string       `json:"error,omitempty"`
}

// Snapshot is the observable state of the recorder at one instant.
type Snapshot struct {
	Status  Status       `json:"status"`
	Session *SessionInfo `json:"session,omitempty"`
}

// Recording is a completed, fully flushed and closed recording.
type Recording struct {
	ID        string        `json:"id"`
	Path      string        `json:"path"`
	Format    audio.Format  `json:"format"`
	Encoding  encoder.Kind  `json:"encoding"`
	Samples   int           `json:"samples"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at"`
	// Dropped counts samples lost because the ring buffer overflowed.
	Dropped uint64 `json:"dropped_samples"`
	// Truncated is set when a write failed and the file ends early.
	Truncated bool `json:"truncated"`
}
