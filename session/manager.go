package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voc/audio-ingest/metrics"
	"github.com/voc/audio-ingest/output"
	"github.com/voc/audio-ingest/transcode"
)

type Config struct {
	Layout   output.Layout
	Encoding transcode.Encoding
	Launcher transcode.Launcher

	// diagnostic lines that end a session
	FatalPatterns []string
	KillTimeout   time.Duration
	// queued input bytes above which writes report saturation
	HighWaterMark int
	// how long finished playlist directories stay on disk
	Retention time.Duration
	// optional, created from Retention when nil. Stopped by Wait.
	Registry *output.Registry

	Metrics *metrics.Metrics
}

type CreateRequest struct {
	ClientID string
	Record   bool
	// optional, a fresh id is generated when empty
	RequestedID string
	// optional rtmp/srt url the transcoder pulls from instead of stdin
	Source string
}

// Manager maps stream ids to sessions. The session table is owned by a
// single loop goroutine; every operation and every transcoder event is a
// message to that loop, handled in arrival order.
type Manager struct {
	conf       Config
	classifier *transcode.Classifier
	registry   *output.Registry
	log        zerolog.Logger

	requests     chan interface{}
	stopped      <-chan struct{}
	loopDone     chan struct{}
	sessionsDone sync.WaitGroup

	// owned by the loop
	sessions map[string]*session
	closing  map[string]*session // torn down, process still exiting
}

type createRequest struct {
	id       string
	clientID string
	record   bool
	source   string
	reply    chan createReply
}

type createReply struct {
	s   *session
	err error
}

type activateRequest struct {
	s     *session
	proc  *transcode.Supervisor
	reply chan activateReply
}

type activateReply struct {
	desc Descriptor
	err  error
}

type ingestRequest struct {
	id    string
	frame []byte
}

type removeRequest struct {
	id     string
	reason Reason
	done   chan bool
}

type getRequest struct {
	id    string
	reply chan *Descriptor
}

type listRequest struct {
	reply chan []Descriptor
}

type teardownEvent struct {
	s      *session
	reason Reason
}

type closedEvent struct {
	s *session
}

// New starts the manager loop. Cancelling ctx tears down every session.
func New(ctx context.Context, conf Config) *Manager {
	m := &Manager{
		conf:       conf,
		classifier: transcode.NewClassifier(conf.FatalPatterns),
		registry:   conf.Registry,
		log:        log.With().Str("context", "session").Logger(),
		requests:   make(chan interface{}, 256),
		stopped:    ctx.Done(),
		loopDone:   make(chan struct{}),
		sessions:   make(map[string]*session),
		closing:    make(map[string]*session),
	}
	if m.registry == nil {
		m.registry = output.NewRegistry(output.RegistryConfig{KeepDelay: conf.Retention})
	}
	if conf.Metrics != nil {
		conf.Metrics.Registerer().MustRegister(m)
	}
	go m.run(ctx)
	return m
}

// Wait blocks until the manager was cancelled and every transcoder exited.
func (m *Manager) Wait() {
	<-m.loopDone
	m.sessionsDone.Wait()
	m.registry.Stop()
}

// Create registers a session, prepares its outputs and starts its
// transcoder. On error nothing is left registered.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Descriptor, error) {
	id := req.RequestedID
	if id == "" {
		id = NewID()
	} else if !ValidID(id) {
		return nil, errors.Wrapf(ErrInvalidID, "%q", id)
	}
	if req.Source != "" && !ValidSource(req.Source) {
		return nil, errors.WithStack(ErrInvalidSource)
	}

	reply := make(chan createReply, 1)
	if !m.send(ctx, &createRequest{id: id, clientID: req.ClientID, record: req.Record, source: req.Source, reply: reply}) {
		return nil, ErrClosed
	}
	var r createReply
	if !receive(m, reply, &r) {
		return nil, ErrClosed
	}
	if r.err != nil {
		return nil, r.err
	}
	s := r.s

	// a retained directory with the same name now belongs to s
	m.registry.Keep(s.paths.PlaylistDir, s.closed)
	if _, err := m.conf.Layout.Prepare(s.id, s.record); err != nil {
		s.log.Error().Err(err).Msg("session: prepare outputs")
		m.notify(&teardownEvent{s: s, reason: ReasonResource})
		m.finish(s)
		return nil, errors.Wrapf(ErrResource, "%s: %v", s.id, err)
	}

	args := transcode.Plan(m.conf.Encoding, s.source, transcode.Outputs{
		Playlist:  s.paths.Playlist,
		Segments:  s.paths.Segments,
		Recording: s.paths.Recording,
		Relay:     s.paths.Relay,
	})
	proc, err := transcode.Start(transcode.Config{
		ID:            s.id,
		Args:          args,
		Launcher:      m.conf.Launcher,
		Classifier:    m.classifier,
		KillTimeout:   m.conf.KillTimeout,
		HighWaterMark: m.conf.HighWaterMark,
		Events:        m.events(s),
		NoInput:       s.source != "",
	})
	if err != nil {
		s.log.Error().Err(err).Msg("session: spawn")
		m.notify(&teardownEvent{s: s, reason: ReasonSpawnFailed})
		m.finish(s)
		// nothing was written, there is nothing to retain
		m.registry.RemoveAfter(s.paths.PlaylistDir, time.Now())
		return nil, errors.Wrapf(ErrProcessSpawn, "%s: %v", s.id, err)
	}
	go m.watch(s, proc)

	activated := make(chan activateReply, 1)
	if !m.send(context.Background(), &activateRequest{s: s, proc: proc, reply: activated}) {
		proc.Stop()
		return nil, ErrClosed
	}
	var a activateReply
	if !receive(m, activated, &a) {
		proc.Stop()
		return nil, ErrClosed
	}
	if a.err != nil {
		proc.Stop()
		return nil, a.err
	}
	return &a.desc, nil
}

// Ingest forwards frame to the session's transcoder. Frames for unknown or
// terminating sessions are dropped. frame must not be modified afterwards.
func (m *Manager) Ingest(id string, frame []byte) {
	m.send(context.Background(), &ingestRequest{id: id, frame: frame})
}

// Remove tears the session down on behalf of its client. Removing an
// unknown session is a no-op.
func (m *Manager) Remove(id string) {
	m.remove(id, ReasonClient)
}

// Stop tears the session down on behalf of an operator. It reports whether
// the session was registered.
func (m *Manager) Stop(id string) bool {
	return m.remove(id, ReasonStopped)
}

func (m *Manager) remove(id string, reason Reason) bool {
	done := make(chan bool, 1)
	if !m.send(context.Background(), &removeRequest{id: id, reason: reason, done: done}) {
		return false
	}
	var found bool
	receive(m, done, &found)
	return found
}

// Get returns a snapshot of a registered session.
func (m *Manager) Get(id string) (Descriptor, bool) {
	reply := make(chan *Descriptor, 1)
	if !m.send(context.Background(), &getRequest{id: id, reply: reply}) {
		return Descriptor{}, false
	}
	var d *Descriptor
	if !receive(m, reply, &d) || d == nil {
		return Descriptor{}, false
	}
	return *d, true
}

// List returns snapshots of all registered sessions, oldest first.
func (m *Manager) List() []Descriptor {
	reply := make(chan []Descriptor, 1)
	if !m.send(context.Background(), &listRequest{reply: reply}) {
		return nil
	}
	var list []Descriptor
	receive(m, reply, &list)
	return list
}

func (m *Manager) Len() int {
	return len(m.List())
}

func (m *Manager) send(ctx context.Context, req interface{}) bool {
	select {
	case m.requests <- req:
		return true
	case <-m.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// receive waits for the loop's reply. A reply sent before the loop
// stopped is still delivered.
func receive[T any](m *Manager, reply <-chan T, v *T) bool {
	select {
	case *v = <-reply:
		return true
	case <-m.loopDone:
		select {
		case *v = <-reply:
			return true
		default:
			return false
		}
	}
}

// notify delivers an event to the loop unless it stopped.
func (m *Manager) notify(ev interface{}) {
	select {
	case m.requests <- ev:
	case <-m.stopped:
	}
}

func (m *Manager) events(s *session) transcode.Events {
	return transcode.Events{
		Fatal: func(string) {
			m.notify(&teardownEvent{s: s, reason: ReasonFatalOutput})
		},
		Exit: func(error) {
			m.notify(&teardownEvent{s: s, reason: ReasonProcessExit})
		},
		WriteFailed: func(error) {
			m.notify(&teardownEvent{s: s, reason: ReasonWriteFailed})
		},
	}
}

// watch waits for the transcoder to be gone and releases the session.
func (m *Manager) watch(s *session, proc *transcode.Supervisor) {
	<-proc.Exited()
	proc.Stop()
	proc.Wait()
	m.finish(s)
}

// finish is called exactly once per registered session.
func (m *Manager) finish(s *session) {
	close(s.closed)
	m.notify(&closedEvent{s: s})
	m.sessionsDone.Done()
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.loopDone)
	for {
		select {
		case <-ctx.Done():
			for _, s := range m.sessions {
				m.teardown(s, ReasonShutdown)
			}
			m.log.Info().Int("closing", len(m.closing)).Msg("session: stopped")
			return
		case req := <-m.requests:
			m.handle(req)
		}
	}
}

func (m *Manager) handle(req interface{}) {
	switch r := req.(type) {
	case *ingestRequest:
		s, ok := m.sessions[r.id]
		if !ok || s.state != StateActive || s.source != "" {
			m.log.Debug().Str("stream", r.id).Int("size", len(r.frame)).Msg("session: frame dropped")
			return
		}
		ok = s.proc.Write(r.frame)
		m.conf.Metrics.FrameIngested(len(r.frame), !ok)

	case *createRequest:
		if _, ok := m.sessions[r.id]; ok {
			r.reply <- createReply{err: errors.Wrap(ErrConflict, r.id)}
			return
		}
		if _, ok := m.closing[r.id]; ok {
			r.reply <- createReply{err: errors.Wrapf(ErrConflict, "%s is still closing", r.id)}
			return
		}
		paths := m.conf.Layout.Resolve(r.id, r.record)
		s := newSession(r.id, r.clientID, r.record, paths, m.log)
		s.source = r.source
		m.sessions[r.id] = s
		m.sessionsDone.Add(1)
		m.conf.Metrics.SetActiveSessions(len(m.sessions))
		r.reply <- createReply{s: s}

	case *activateRequest:
		s := r.s
		if s.state != StateCreated {
			if s.end.reason == ReasonShutdown {
				r.reply <- activateReply{err: ErrClosed}
			} else {
				r.reply <- activateReply{err: errors.Wrapf(ErrProcessSpawn, "%s: %s during startup", s.id, s.end.reason)}
			}
			return
		}
		s.proc = r.proc
		s.state = StateActive
		m.conf.Metrics.SessionCreated()
		s.log.Info().Int("pid", r.proc.Pid()).Bool("record", s.record).Bool("pull", s.source != "").Msg("session: active")
		r.reply <- activateReply{desc: s.descriptor()}

	case *removeRequest:
		s, ok := m.sessions[r.id]
		if ok {
			m.teardown(s, r.reason)
		} else {
			m.log.Debug().Str("stream", r.id).Msg("session: remove unknown")
		}
		r.done <- ok

	case *getRequest:
		s, ok := m.sessions[r.id]
		if !ok {
			r.reply <- nil
			return
		}
		d := s.descriptor()
		r.reply <- &d

	case *listRequest:
		list := make([]Descriptor, 0, len(m.sessions))
		for _, s := range m.sessions {
			list = append(list, s.descriptor())
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].StartTime.Equal(list[j].StartTime) {
				return list[i].ID < list[j].ID
			}
			return list[i].StartTime.Before(list[j].StartTime)
		})
		r.reply <- list

	case *teardownEvent:
		m.teardown(r.s, r.reason)

	case *closedEvent:
		s := r.s
		m.teardown(s, ReasonProcessExit)
		s.state = StateClosed
		if m.closing[s.id] == s {
			delete(m.closing, s.id)
		}
		s.log.Debug().Msg("session: closed")
	}
}

// teardown is the single exit path of a session. Later calls are no-ops.
func (m *Manager) teardown(s *session, reason Reason) {
	if s.state >= StateTerminating {
		return
	}
	s.state = StateTerminating
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.closing[s.id] = s
	s.end.reason = reason
	close(s.end.done)

	// closes the input, signals the process and arms the kill timer
	if s.proc != nil {
		s.proc.Stop()
	}

	m.conf.Metrics.SessionEnded(string(reason))
	m.conf.Metrics.SetActiveSessions(len(m.sessions))
	ev := s.log.Info()
	if reason.Runtime() || reason == ReasonSpawnFailed || reason == ReasonResource {
		ev = s.log.Warn()
	}
	ev.Str("reason", string(reason)).Dur("duration", time.Since(s.startTime)).Msg("session: teardown")
}
