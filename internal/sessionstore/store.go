package sessionstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/livecaption/relay/internal/domain"
	"github.com/livecaption/relay/internal/events"
	"github.com/livecaption/relay/internal/store"
	"github.com/livecaption/relay/internal/upstream"
)

const (
	// DefaultCleanupInterval is the sweep period when none is configured.
	DefaultCleanupInterval = 5 * time.Minute
	// DefaultSessionTTL is the idle timeout when none is configured.
	DefaultSessionTTL = 2 * time.Hour
)

// DestroyReason records why a session left the store.
type DestroyReason string

const (
	EndedByClient  DestroyReason = "client"
	EndedByTTL     DestroyReason = "ttl"
	EndedByErasure DestroyReason = "erasure"
)

// Store is the in-memory session map: sessions by id, with a reverse index
// by domain for dynamic CORS lookups.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byDomain map[string]map[string]struct{} // domain -> session ids

	repo  store.Repository
	ttl   time.Duration
	sweep time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a session store backed by repo for summary-row writes, with
// the given idle TTL and sweep interval.
func New(repo store.Repository, ttl, sweepInterval time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultCleanupInterval
	}
	return &Store{
		sessions: make(map[string]*Session),
		byDomain: make(map[string]map[string]struct{}),
		repo:     repo,
		ttl:      ttl,
		sweep:    sweepInterval,
		stopCh:   make(chan struct{}),
	}
}

// Create registers a new session, or returns the existing one for the same
// (apiKey, streamKey, domain) triple so registration is idempotent.
func (s *Store) Create(apiKey, streamKey, domain, token string, client *upstream.Client) (*Session, bool) {
	id := MakeSessionID(apiKey, streamKey, domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		return existing, false
	}

	sess := newSession(id, apiKey, streamKey, domain, token, client)
	s.sessions[id] = sess
	if s.byDomain[domain] == nil {
		s.byDomain[domain] = make(map[string]struct{})
	}
	s.byDomain[domain][id] = struct{}{}
	return sess, true
}

// Get looks up a session by id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Has reports whether a session id is present.
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Touch refreshes a session's last-activity timestamp.
func (s *Store) Touch(id string) bool {
	sess, ok := s.Get(id)
	if !ok {
		return false
	}
	sess.Touch()
	return true
}

// GetByDomain returns all sessions currently registered for domain, used
// by the dynamic CORS policy ("echo origin only if a session exists").
func (s *Store) GetByDomain(domain string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDomain[domain]
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, sess)
		}
	}
	return out
}

// All returns a snapshot of every live session.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Size returns the number of live sessions.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Remove deletes a session and runs its destruction path, returning the
// removed record so the caller can inspect final counters. Used for
// explicit teardown (DELETE /live) and erasure.
func (s *Store) Remove(ctx context.Context, id string, reason DestroyReason) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.sessions, id)
	if domainSet, ok := s.byDomain[sess.Domain]; ok {
		delete(domainSet, id)
		if len(domainSet) == 0 {
			delete(s.byDomain, sess.Domain)
		}
	}
	s.mu.Unlock()

	s.destroy(ctx, sess, reason)
	return sess, true
}

// destroy runs the best-effort teardown path common to every removal
// route: close the upstream client, append the summary row, bump the
// hourly roll-up, and emit session_closed. Any step failing does not stop
// the next one — the summary row and roll-up are written regardless of
// whether the upstream close succeeded.
func (s *Store) destroy(ctx context.Context, sess *Session, reason DestroyReason) {
	if err := sess.Upstream.End(ctx); err != nil {
		slog.Warn("session teardown: upstream close failed", "session_id", sess.ID, "error", err)
	}

	delivered, failed := sess.Counters()
	endedAt := time.Now()

	if s.repo != nil {
		if err := s.repo.AppendSessionStats(ctx, domain.SessionStatsRow{
			SessionID: sess.ID,
			ApiKey:    sess.ApiKey,
			Domain:    sess.Domain,
			StartedAt: sess.StartedAt,
			EndedAt:   endedAt,
			EndedBy:   string(reason),
			Delivered: delivered,
			Failed:    failed,
		}); err != nil {
			slog.Error("session teardown: failed to append session stats", "session_id", sess.ID, "error", err)
		}

		if err := s.repo.IncrementHourly(ctx, sess.Domain, endedAt, domain.HourlyRollup{
			SessionsEnded: 1,
		}); err != nil {
			slog.Error("session teardown: failed to increment hourly rollup", "session_id", sess.ID, "error", err)
		}
	}

	sess.Events.Close(events.Event{
		Name: "session_closed",
		Data: map[string]any{"sessionId": sess.ID, "endedBy": reason},
	})
}

// StartSweeper launches the idle-session sweeper. It stops when ctx is
// cancelled or StopCleanup is called, whichever comes first.
func (s *Store) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", s.sweep, "ttl", s.ttl)
		for {
			select {
			case <-ticker.C:
				s.sweepOnce(ctx)
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// StopCleanup stops the sweeper without waiting for ctx cancellation.
func (s *Store) StopCleanup() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.LastActivity().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	slog.Info("session sweeper found expired sessions", "count", len(expired))
	for _, id := range expired {
		if _, ok := s.Remove(ctx, id, EndedByTTL); ok {
			slog.Info("session sweeper closed idle session", "session_id", id)
		}
	}
}

// CloseAll tears every live session down, best-effort, for use on shutdown.
func (s *Store) CloseAll(ctx context.Context) {
	for _, sess := range s.All() {
		s.Remove(ctx, sess.ID, EndedByClient)
	}
}
