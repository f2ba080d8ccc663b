package live

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trinera/agrolive/internal/models"
)

// entry pairs a dispatcher with the hook that tears its channel down.
type entry struct {
	d     *Dispatcher
	close func()
	once  sync.Once
}

// Registry maps session ids to dispatchers. Sessions are created on
// channel open and destroyed on channel close or inactivity; different
// sessions share no state beyond this map.
type Registry struct {
	log         *logrus.Logger
	idleTimeout time.Duration

	mu sync.Mutex
	m  map[string]*entry
	wg sync.WaitGroup
}

func NewRegistry(idleTimeout time.Duration, log *logrus.Logger) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		log:         log,
		idleTimeout: idleTimeout,
		m:           make(map[string]*entry),
	}
}

// Register adds a dispatcher under its session id. A re-registration with
// the same id (client reconnect) replaces and tears down the old entry, so
// no in-flight state is duplicated.
func (r *Registry) Register(d *Dispatcher, closeFn func()) (unregister func()) {
	id := d.Session().SessionID
	e := &entry{d: d, close: closeFn}

	r.mu.Lock()
	old := r.m[id]
	r.m[id] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.log.WithField("session_id", id).Info("session replaced by reconnect")
		r.remove(id, old)
	}

	return func() { r.remove(id, e) }
}

func (r *Registry) remove(id string, e *entry) {
	e.once.Do(func() {
		r.mu.Lock()
		if r.m[id] == e {
			delete(r.m, id)
		}
		r.mu.Unlock()

		if e.close != nil {
			e.close()
		}
		r.wg.Done()
	})
}

func (r *Registry) Get(id string) (*Dispatcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[id]
	if !ok {
		return nil, false
	}
	return e.d, true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Snapshot returns a copy of every live session for the status routes.
func (r *Registry) Snapshot() []models.Session {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.m))
	for _, e := range r.m {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]models.Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.d.Session())
	}
	return out
}

// Reap tears down sessions idle longer than the timeout. Returns how many
// were removed.
func (r *Registry) Reap(now time.Time) int {
	r.mu.Lock()
	var stale []struct {
		id string
		e  *entry
	}
	for id, e := range r.m {
		if e.d.Session().IdleFor(now) > r.idleTimeout {
			stale = append(stale, struct {
				id string
				e  *entry
			}{id, e})
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.log.WithField("session_id", s.id).Info("session expired")
		r.remove(s.id, s.e)
	}
	return len(stale)
}

// RunReaper reaps on an interval until the context ends.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Reap(now)
		}
	}
}

// CloseAll tears down every session, then Wait blocks until teardown
// completes (used on shutdown).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make(map[string]*entry, len(r.m))
	for id, e := range r.m {
		all[id] = e
	}
	r.mu.Unlock()

	for id, e := range all {
		r.remove(id, e)
	}
}

func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
