package session

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/voc/audio-ingest/output"
	"github.com/voc/audio-ingest/transcode"
)

// State of a session. Transitions only move forward.
type State int

const (
	StateCreated State = iota
	StateActive
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ending is shared between a session and the descriptors handed out for it.
type ending struct {
	done   chan struct{}
	reason Reason // set before done is closed
}

// session is owned by the manager loop, except for closed which the
// process watcher closes.
type session struct {
	id        string
	clientID  string
	startTime time.Time
	record    bool
	source    string // pull url, empty when frames are pushed
	paths     output.Paths
	state     State
	proc      *transcode.Supervisor
	log       zerolog.Logger

	end    *ending
	closed chan struct{} // process gone, outputs released
}

func newSession(id, clientID string, record bool, paths output.Paths, logger zerolog.Logger) *session {
	return &session{
		id:        id,
		clientID:  clientID,
		startTime: time.Now(),
		record:    record,
		paths:     paths,
		state:     StateCreated,
		log:       logger.With().Str("stream", id).Str("client", clientID).Logger(),
		end:       &ending{done: make(chan struct{})},
		closed:    make(chan struct{}),
	}
}

func (s *session) descriptor() Descriptor {
	d := Descriptor{
		ID:        s.id,
		ClientID:  s.clientID,
		StartTime: s.startTime,
		Record:    s.record,
		Source:    s.source,
		Pull:      s.source != "",
		State:     s.state,
		Outputs:   s.paths,
		end:       s.end,
	}
	if s.proc != nil {
		d.Pid = s.proc.Pid()
		d.Buffered = s.proc.Buffered()
		d.Written = s.proc.Written()
	}
	return d
}

// Descriptor is a snapshot of a session.
type Descriptor struct {
	ID        string    `json:"streamId"`
	ClientID  string    `json:"clientId"`
	StartTime time.Time `json:"startTime"`
	Record    bool      `json:"recording"`
	// pull url, may carry a stream key
	Source string `json:"-"`
	Pull   bool   `json:"pull"`
	State  State  `json:"state"`
	Pid    int    `json:"pid,omitempty"`
	// bytes queued for, and handed to, the transcoder
	Buffered int   `json:"bufferedBytes"`
	Written  int64 `json:"writtenBytes"`

	Outputs output.Paths `json:"-"`

	end *ending
}

// Done is closed when the session is torn down.
func (d Descriptor) Done() <-chan struct{} {
	return d.end.done
}

// Reason returns why the session was torn down, empty while it is running.
func (d Descriptor) Reason() Reason {
	select {
	case <-d.end.done:
		return d.end.reason
	default:
		return ""
	}
}
