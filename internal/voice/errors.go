package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrStartInFlight is returned when Start is called while another start
	// or reconnect is still running.
	ErrStartInFlight = errors.New("conversation start already in progress")
	// ErrAlreadyActive is returned when Start is called on a live session.
	ErrAlreadyActive = errors.New("conversation already active")
	// errSuperseded marks work abandoned because Stop or a newer start ran.
	errSuperseded = errors.New("superseded")
)

// MicrophoneAccessError reports that the microphone could not be opened.
type MicrophoneAccessError struct {
	Err error
}

func (e *MicrophoneAccessError) Error() string {
	return fmt.Sprintf("microphone access: %v", e.Err)
}

func (e *MicrophoneAccessError) Unwrap() error { return e.Err }

// SessionError is an error reported by, or starting, the remote platform.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("voice session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ConnectionLostError reports a remote disconnect.
type ConnectionLostError struct {
	Reason  DisconnectReason
	Message string
}

func (e *ConnectionLostError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("connection lost (%s)", e.Reason)
	}
	return fmt.Sprintf("connection lost (%s): %s", e.Reason, e.Message)
}
