package recorder

import "errors"

var (
	// ErrNoActiveRecording is returned by Stop when no session exists.
	ErrNoActiveRecording = errors.New("no active recording")
	// ErrAlreadyRecording is logged when Start arrives during a session.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrRecorderClosed is returned by Handle calls once the actor has exited.
	ErrRecorderClosed = errors.New("recorder is not running")
)
