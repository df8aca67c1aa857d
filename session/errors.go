package session

import "github.com/pkg/errors"

var (
	// ErrConflict is returned when the requested id belongs to a live session.
	ErrConflict = errors.New("session already exists")
	// ErrResource is returned when the session outputs can't be prepared.
	ErrResource = errors.New("session output unavailable")
	// ErrProcessSpawn is returned when the transcoder did not start.
	ErrProcessSpawn = errors.New("transcoder failed to start")
	// ErrInvalidID is returned for requested ids not of the form stream-<token>.
	ErrInvalidID = errors.New("invalid stream id")
	// ErrInvalidSource is returned for pull urls the transcoder may not open.
	ErrInvalidSource = errors.New("invalid source url")
	// ErrClosed is returned once the manager is shutting down.
	ErrClosed = errors.New("session manager closed")
)

// Reason records why a session was torn down.
type Reason string

const (
	ReasonClient      Reason = "client"
	ReasonFatalOutput Reason = "fatal-output"
	ReasonProcessExit Reason = "process-exit"
	ReasonSpawnFailed Reason = "spawn-failed"
	ReasonResource    Reason = "resource"
	ReasonWriteFailed Reason = "write-failed"
	ReasonStopped     Reason = "stopped"
	ReasonShutdown    Reason = "shutdown"
)

// Runtime reports whether the transcoder ended the session on its own.
func (r Reason) Runtime() bool {
	switch r {
	case ReasonFatalOutput, ReasonProcessExit, ReasonWriteFailed:
		return true
	}
	return false
}
