package delivery

import (
	"context"
	"sync"

	"github.com/livecaption/relay/internal/sessionstore"
	"github.com/livecaption/relay/internal/store"
)

// Registry owns the one-worker-per-session mapping so the HTTP layer never
// has to reach into a session's internals to find its queue. Workers are
// started against the registry's own application-scoped context, never the
// per-request context of whichever HTTP call happens to trigger creation —
// net/http cancels that the instant ServeHTTP returns, which would kill the
// consumer goroutine moments after the session registers.
type Registry struct {
	ctx     context.Context
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewRegistry builds an empty worker registry whose workers all run under
// ctx, the application's long-lived lifecycle context.
func NewRegistry(ctx context.Context) *Registry {
	return &Registry{ctx: ctx, workers: make(map[string]*Worker)}
}

// GetOrCreate returns the worker for sess, starting one if this is the
// first time the session has been seen.
func (r *Registry) GetOrCreate(sess *sessionstore.Session, repo store.Repository) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[sess.ID]; ok {
		return w
	}
	w := NewWorker(r.ctx, sess, repo)
	r.workers[sess.ID] = w
	return w
}

// Remove stops and forgets the worker for the given session id, if any.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[sessionID]; ok {
		w.Stop()
		delete(r.workers, sessionID)
	}
}
