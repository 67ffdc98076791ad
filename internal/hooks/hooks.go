// Package hooks runs user shell commands when a recording starts, stops or
// fails. The stop hook is the usual way to hand a finished file to a
// transcription step.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"

	"github.com/audiolibrelab/dictator/internal/config"
	"github.com/audiolibrelab/dictator/internal/recorder"
)

// Event names exported to hook commands in DICTATOR_EVENT.
const (
	EventStarted = "started"
	EventStopped = "stopped"
	EventFailed  = "failed"
)

// DefaultTimeout bounds a single hook command.
const DefaultTimeout = 5 * time.Minute

// Env is the data passed to a hook command through its environment.
type Env struct {
	Event     string
	SessionID string
	Recording string
	Error     string
}

func (e Env) vars() []string {
	return []string{
		"DICTATOR_EVENT=" + e.Event,
		"DICTATOR_SESSION_ID=" + e.SessionID,
		"DICTATOR_RECORDING=" + e.Recording,
		"DICTATOR_ERROR=" + e.Error,
	}
}

// Runner executes the configured commands with sh -c. Hooks queued by
// Subscribe run one at a time in event order.
type Runner struct {
	cfg     config.HooksConfig
	shell   string
	timeout time.Duration

	mu      sync.Mutex
	pending []Env
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	started sync.Once
	closed  sync.Once
}

func New(cfg config.HooksConfig) *Runner {
	return &Runner{
		cfg:     cfg,
		shell:   "sh",
		timeout: DefaultTimeout,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Command returns the configured command for event, or "" when none is set.
func (r *Runner) Command(event string) string {
	switch event {
	case EventStarted:
		return r.cfg.OnStart
	case EventStopped:
		return r.cfg.OnStop
	case EventFailed:
		return r.cfg.OnError
	default:
		return ""
	}
}

// Run executes the hook for env.Event and waits for it. Stdin and stdout
// are discarded; stderr is included in the returned error on failure.
func (r *Runner) Run(ctx context.Context, env Env) error {
	command := strings.TrimSpace(r.Command(env.Event))
	if command == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Env = append(os.Environ(), env.vars()...)
	cmd.Stdout = io.Discard
	// background children of the hook may keep stderr open
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("Running hook", "event", env.Event, "command", command)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("hook %q exited with code %d: %s", env.Event, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("failed to run hook %q: %w", env.Event, err)
	}
	return nil
}

// Subscribe queues hooks for recorder events published on bus. The bus
// handlers only append to the queue; a single worker goroutine runs the
// commands, so a slow hook never stalls the recorder and on_stop never
// overtakes the on_start of the same session.
func (r *Runner) Subscribe(bus EventBus.Bus) error {
	if err := bus.Subscribe(recorder.TopicStarted, r.onStarted); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", recorder.TopicStarted, err)
	}
	if err := bus.Subscribe(recorder.TopicStopped, r.onStopped); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", recorder.TopicStopped, err)
	}
	if err := bus.Subscribe(recorder.TopicFailed, r.onFailed); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", recorder.TopicFailed, err)
	}
	r.started.Do(func() { go r.worker() })
	return nil
}

// Close runs the hooks still queued and waits for the worker to exit.
// Events published afterwards are ignored.
func (r *Runner) Close() {
	r.closed.Do(func() { close(r.quit) })
	r.started.Do(func() { close(r.done) })
	<-r.done
}

func (r *Runner) enqueue(env Env) {
	select {
	case <-r.quit:
		slog.Debug("Hook runner closed, event ignored", "event", env.Event)
		return
	default:
	}

	r.mu.Lock()
	r.pending = append(r.pending, env)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) next() (Env, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return Env{}, false
	}
	env := r.pending[0]
	r.pending = r.pending[1:]
	return env, true
}

func (r *Runner) worker() {
	defer close(r.done)
	for {
		for env, ok := r.next(); ok; env, ok = r.next() {
			r.runLogged(env)
		}
		select {
		case <-r.wake:
		case <-r.quit:
			for env, ok := r.next(); ok; env, ok = r.next() {
				r.runLogged(env)
			}
			return
		}
	}
}

func (r *Runner) onStarted(e recorder.StartedEvent) {
	r.enqueue(Env{Event: EventStarted, SessionID: e.SessionID, Recording: e.Path})
}

func (r *Runner) onStopped(e recorder.StoppedEvent) {
	r.enqueue(Env{Event: EventStopped, SessionID: e.Recording.ID, Recording: e.Recording.Path})
}

func (r *Runner) onFailed(e recorder.FailedEvent) {
	env := Env{Event: EventFailed, SessionID: e.SessionID, Recording: e.Path}
	if e.Err != nil {
		env.Error = e.Err.Error()
	}
	r.enqueue(env)
}

func (r *Runner) runLogged(env Env) {
	if err := r.Run(context.Background(), env); err != nil {
		slog.Warn("Hook failed", "event", env.Event, "session_id", env.SessionID, "error", err)
	}
}
