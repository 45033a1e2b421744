package broker

import (
	"fmt"
	"time"

	"github.com/entrhq/chatbridge/pkg/driver"
	"github.com/entrhq/chatbridge/pkg/logging"
)

// Registry maps session ids to live sessions, enforces the capacity ceiling
// and reaps sessions idle beyond the threshold.
//
// The registry has no internal locking: it is owned by the dispatcher's
// single serve loop and every access is serialized through it.
type Registry struct {
	sessions    map[string]*Session
	alloc       *WindowAllocator
	drv         driver.Driver
	flow        SiteFlow
	maxSessions int
	idleTimeout time.Duration
	log         *logging.Logger
}

// NewRegistry builds an empty registry. Non-positive limits fall back to the
// package defaults.
func NewRegistry(drv driver.Driver, flow SiteFlow, alloc *WindowAllocator, maxSessions int, idleTimeout time.Duration, log *logging.Logger) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeoutSeconds * time.Second
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		alloc:       alloc,
		drv:         drv,
		flow:        flow,
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		log:         log,
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Allocator exposes the registry's window allocator.
func (r *Registry) Allocator() *WindowAllocator {
	return r.alloc
}

// Create allocates a window, initializes a session in it and registers the
// session under its derived id. Any failure after the window has been
// allocated tears the partial session down and releases the handle before
// the error propagates, so nothing half-built is ever visible.
func (r *Registry) Create() (*Session, error) {
	if len(r.sessions) >= r.maxSessions {
		return nil, ErrCapacity
	}

	windowHandle, err := r.alloc.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocating window: %w", err)
	}

	session := newSession(r.drv, r.flow, windowHandle, r.log)
	if err := session.Initialize(); err != nil {
		session.Shutdown()
		r.alloc.Release(windowHandle)
		return nil, fmt.Errorf("initializing session: %w", err)
	}

	r.sessions[session.ID()] = session
	r.log.Infof("created session %s in window %s", session.ID(), windowHandle)
	return session, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return session, nil
}

// Shutdown tears down the session with the given id and releases its window.
// Removal and release happen in the same step; a lookup after Shutdown
// returns ErrUnknownSession, never a half-dead session.
func (r *Registry) Shutdown(id string) error {
	session, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}

	delete(r.sessions, id)
	session.Shutdown()
	r.alloc.Release(session.WindowHandle())

	r.log.Infof("shut down session %s", id)
	return nil
}

// ReapIdle removes every session whose last activity is older than the idle
// threshold, tearing each down and releasing its window. It returns how
// many sessions were reaped.
func (r *Registry) ReapIdle(now time.Time) int {
	var stale []*Session
	for _, session := range r.sessions {
		if now.Sub(session.LastUsedAt()) > r.idleTimeout {
			stale = append(stale, session)
		}
	}

	for _, session := range stale {
		delete(r.sessions, session.ID())
		session.Shutdown()
		r.alloc.Release(session.WindowHandle())
		r.log.Infof("reaped idle session %s", session.ID())
	}
	return len(stale)
}

// ShutdownAll tears down every registered session. Used when the dispatcher
// leaves its serve loop.
func (r *Registry) ShutdownAll() {
	for id, session := range r.sessions {
		delete(r.sessions, id)
		session.Shutdown()
		r.alloc.Release(session.WindowHandle())
	}
}
