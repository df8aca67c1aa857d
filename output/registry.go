package output

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultExpireInterval = 2 * time.Second
	DefaultKeepDelay      = 30 * time.Second
)

type RegistryConfig struct {
	// how often expired paths are removed
	ExpireInterval time.Duration
	// how long a path survives after its keep channel was closed
	KeepDelay time.Duration
	// removes an expired path, os.RemoveAll by default
	Remove func(path string) error
}

type entry struct {
	path     string          // path to the file or directory
	deadline time.Time       // deadline for removal
	keep     <-chan struct{} // keep path as long as channel is open
	ack      chan struct{}
}

// Registry keeps session output directories alive while their session runs
// and removes them a while after it finished.
type Registry struct {
	config RegistryConfig
	paths  map[string]*entry
	add    chan *entry
	log    zerolog.Logger

	stopped <-chan struct{}
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

func NewRegistry(config RegistryConfig) *Registry {
	if config.ExpireInterval == 0 {
		config.ExpireInterval = DefaultExpireInterval
	}
	if config.KeepDelay == 0 {
		config.KeepDelay = DefaultKeepDelay
	}
	if config.Remove == nil {
		config.Remove = os.RemoveAll
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		config: config,
		paths:  make(map[string]*entry),
		add:    make(chan *entry, 1),
		log:    log.With().Str("context", "registry").Logger(),

		stopped: ctx.Done(),
		cancel:  cancel,
	}
	r.done.Add(1)
	go r.run(ctx)
	return r
}

// Stop removes every path that is no longer kept and stops the registry.
// Paths still kept by a live session are left on disk.
func (r *Registry) Stop() {
	r.cancel()
	r.done.Wait()
}

func (r *Registry) run(ctx context.Context) {
	defer r.done.Done()
	ticker := time.NewTicker(r.config.ExpireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.cleanup()
			return
		case <-ticker.C:
			r.expire(time.Now())
		case e := <-r.add:
			// a deadline never replaces an active keep
			if old, ok := r.paths[e.path]; ok && e.keep == nil && kept(old) {
				close(e.ack)
				continue
			}
			r.paths[e.path] = e
			close(e.ack)
		}
	}
}

func (r *Registry) cleanup() {
	for path, e := range r.paths {
		if kept(e) {
			continue
		}
		r.remove(path)
	}
}

// kept reports whether e's keep channel is still open.
func kept(e *entry) bool {
	if e.keep == nil {
		return false
	}
	select {
	case <-e.keep:
		return false
	default:
		return true
	}
}

func (r *Registry) expire(now time.Time) {
	for path, e := range r.paths {
		if e.keep != nil {
			select {
			case <-e.keep:
				e.deadline = now.Add(r.config.KeepDelay)
				e.keep = nil
				r.log.Debug().Str("path", path).Msg("keep expired")
			default:
			}
			continue
		}

		if e.deadline.After(now) {
			continue
		}
		r.remove(path)
		delete(r.paths, path)
	}
}

func (r *Registry) remove(path string) {
	r.log.Debug().Str("path", path).Msg("remove")
	if err := r.config.Remove(path); err != nil {
		r.log.Error().Str("path", path).Err(err).Msg("remove failed")
	}
}

func (r *Registry) register(e *entry) {
	e.ack = make(chan struct{})
	select {
	case r.add <- e:
		<-e.ack
	case <-r.stopped:
	}
}

// RemoveAfter schedules path for removal at deadline.
func (r *Registry) RemoveAfter(path string, deadline time.Time) {
	r.register(&entry{path: path, deadline: deadline})
}

// Keep keeps path until keep is closed, then removes it after the keep delay.
// The registration is in effect when Keep returns.
func (r *Registry) Keep(path string, keep <-chan struct{}) {
	r.register(&entry{path: path, keep: keep})
}
