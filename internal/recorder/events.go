package recorder

import "time"

// Lifecycle topics published on the event bus. Publish runs synchronous
// handlers on the recorder goroutine, so they must only hand work off.
const (
	TopicStarted = "recorder:started"
	TopicStopped = "recorder:stopped"
	TopicFailed  = "recorder:failed"
)

// StartedEvent is published once capture and encoder are both running.
type StartedEvent struct {
	SessionID string
	Path      string
	StartedAt time.Time
}

// StoppedEvent is published after a recording has been finalized.
type StoppedEvent struct {
	Recording Recording
}

// FailedEvent is published when a session could not start, lost a write
// or could not be finalized.
type FailedEvent struct {
	SessionID string
	Path      string
	Stage     string // "start", "write" or "finalize"
	Err       error
}
