// Package documents serves stored documents over HTTP and keeps server-side
// editing sessions for clients that edit through the operations API.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/printdesk/editor/internal/engine"
	"github.com/printdesk/editor/internal/store"
)

var ErrRegistryClosed = errors.New("registry closed")

const DefaultIdle = 5 * time.Minute

type entry struct {
	id       string
	session  *engine.Session
	lastUsed time.Time
}

// Registry holds at most one open session per document. Sessions idle for
// longer than the idle period are closed, which runs their final save.
type Registry struct {
	store  store.Store
	deps   func(docID string) engine.Deps
	idle   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	// closing holds documents whose session is running its final save.
	closing map[string]chan struct{}
	closed  bool
}

// NewRegistry creates a registry that opens sessions from s. deps supplies
// the settings of each new session; its Saver defaults to s.
func NewRegistry(s store.Store, deps func(docID string) engine.Deps, idle time.Duration, logger *slog.Logger) *Registry {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    s,
		deps:     deps,
		idle:     idle,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*entry),
		closing:  make(map[string]chan struct{}),
	}
}

// Acquire returns the open session of docID, opening it from the store if
// needed. A session still running its final save is waited for, so the new
// one loads what it saved.
func (r *Registry) Acquire(ctx context.Context, docID string) (*engine.Session, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		if e, ok := r.sessions[docID]; ok {
			e.lastUsed = r.now()
			r.mu.Unlock()
			return e.session, nil
		}
		done, closing := r.closing[docID]
		if !closing {
			s, err := r.openLocked(ctx, docID)
			r.mu.Unlock()
			return s, err
		}
		r.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) openLocked(ctx context.Context, docID string) (*engine.Session, error) {
	var deps engine.Deps
	if r.deps != nil {
		deps = r.deps(docID)
	}
	if deps.Saver == nil {
		deps.Saver = r.store
	}
	deps.DocID = docID
	s, err := engine.Open(ctx, r.store, docID, deps)
	if err != nil {
		return nil, err
	}

	e := &entry{id: uuid.NewString(), session: s, lastUsed: r.now()}
	r.sessions[docID] = e
	r.logger.Info("session attached", "doc", docID, "session", e.id)
	return s, nil
}

// Lookup returns the open session of docID without opening one.
func (r *Registry) Lookup(docID string) (*engine.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[docID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Release closes the session of docID, if open.
func (r *Registry) Release(ctx context.Context, docID string) error {
	r.mu.Lock()
	e, ok := r.sessions[docID]
	if ok {
		r.detachLocked(docID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.close(ctx, docID, e)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the idle period and returns
// how many it closed.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	idle := make(map[string]*entry)
	for docID, e := range r.sessions {
		if e.lastUsed.Before(cutoff) && !e.session.Gesturing() {
			idle[docID] = e
			r.detachLocked(docID)
		}
	}
	r.mu.Unlock()

	for docID, e := range idle {
		r.close(ctx, docID, e)
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(max(r.idle/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CloseAll closes every session, saving unsaved edits, and refuses new
// ones.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	open := make(map[string]*entry, len(r.sessions))
	for docID, e := range r.sessions {
		open[docID] = e
		r.detachLocked(docID)
	}
	r.mu.Unlock()

	var errs []error
	for docID, e := range open {
		if err := r.close(ctx, docID, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// detachLocked removes docID from the open sessions and marks it closing
// until close finishes.
func (r *Registry) detachLocked(docID string) {
	delete(r.sessions, docID)
	r.closing[docID] = make(chan struct{})
}

func (r *Registry) close(ctx context.Context, docID string, e *entry) error {
	err := e.session.Close(ctx)

	r.mu.Lock()
	if done, ok := r.closing[docID]; ok {
		delete(r.closing, docID)
		close(done)
	}
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("close session %s: %w", docID, err)
	}
	r.logger.Info("session detached", "doc", docID, "session", e.id)
	return nil
}
