package recorder

import "context"

// Handle sends commands to a Recorder. It is a small value; copies share
// nothing but the command channel and can be used from any goroutine.
type Handle struct {
	cmds chan<- command
	done <-chan struct{}
}

// Start asks the recorder to begin a session. It does not wait for the
// session to open: a failed start is only logged by the recorder.
func (h Handle) Start(ctx context.Context) error {
	return h.send(ctx, startCommand{})
}

// Stop ends the current session and returns the finalized recording.
func (h Handle) Stop(ctx context.Context) (*Recording, error) {
	reply := make(chan stopResult, 1)
	if err := h.send(ctx, stopCommand{reply: reply}); err != nil {
		return nil, err
	}

	select {
	case res := <-reply:
		return res.recording, res.err
	case <-h.done:
		// the actor may have answered just before exiting
		select {
		case res := <-reply:
			return res.recording, res.err
		default:
			return nil, ErrRecorderClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the recorder's current state.
func (h Handle) Status(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := h.send(ctx, statusCommand{reply: reply}); err != nil {
		return Snapshot{}, err
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-h.done:
		select {
		case snap := <-reply:
			return snap, nil
		default:
			return Snapshot{}, ErrRecorderClosed
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (h Handle) send(ctx context.Context, cmd command) error {
	// Fail fast even if the buffer still has room.
	select {
	case <-h.done:
		return ErrRecorderClosed
	default:
	}

	select {
	case h.cmds <- cmd:
		return nil
	case <-h.done:
		return ErrRecorderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
