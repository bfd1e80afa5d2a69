// Package sessionstore holds the in-memory session map: the relay's
// request-processing core. Sessions are never persisted directly; their
// lifecycle events are written to durable summary rows by the caller.
package sessionstore

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livecaption/relay/internal/events"
	"github.com/livecaption/relay/internal/upstream"
)

// MakeSessionID derives a deterministic 16-hex-char id from the triple
// that identifies one client's bridge, so identical credentials from the
// same origin collapse onto one session and no credential is recoverable
// from the id.
func MakeSessionID(apiKey, streamKey, domain string) string {
	h := sha256.New()
	h.Write([]byte(apiKey))
	h.Write([]byte{0})
	h.Write([]byte(streamKey))
	h.Write([]byte{0})
	h.Write([]byte(domain))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// Session is one client's authenticated bridge to the upstream.
type Session struct {
	ID        string
	ApiKey    string
	StreamKey string
	Domain    string
	Token     string

	StartedAt time.Time

	Upstream *upstream.Client
	Events   *events.Emitter

	lastActivity atomic.Int64 // unix nanos
	sequence     atomic.Uint64
	syncOffsetMs atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64

	micMu     sync.Mutex
	micHolder string
}

func newSession(id, apiKey, streamKey, domain, token string, client *upstream.Client) *Session {
	s := &Session{
		ID:        id,
		ApiKey:    apiKey,
		StreamKey: streamKey,
		Domain:    domain,
		Token:     token,
		StartedAt: time.Now(),
		Upstream:  client,
		Events:    events.NewEmitter(),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Touch refreshes last-activity. Called on every authenticated request.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last touch time.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Sequence returns the session's current upstream sequence number.
func (s *Session) Sequence() uint64 {
	return s.sequence.Load()
}

// SetSequence overwrites the session's sequence number (PATCH /live).
func (s *Session) SetSequence(n uint64) {
	s.sequence.Store(n)
	s.Upstream.SetSequence(n)
}

// MirrorSequence pulls the sequence forward after a successful delivery.
func (s *Session) MirrorSequence(n uint64) {
	s.sequence.Store(n)
}

// SyncOffsetMillis returns the last-estimated clock offset.
func (s *Session) SyncOffsetMillis() int64 {
	return s.syncOffsetMs.Load()
}

// SetSyncOffsetMillis records a freshly measured clock offset.
func (s *Session) SetSyncOffsetMillis(ms int64) {
	s.syncOffsetMs.Store(ms)
}

// IncrementDelivered bumps the delivered-caption counter and returns the
// new total.
func (s *Session) IncrementDelivered(n int64) int64 {
	return s.delivered.Add(n)
}

// IncrementFailed bumps the failed-caption counter and returns the new
// total.
func (s *Session) IncrementFailed(n int64) int64 {
	return s.failed.Add(n)
}

// Counters returns the current delivered/failed totals.
func (s *Session) Counters() (delivered, failed int64) {
	return s.delivered.Load(), s.failed.Load()
}

// ClaimMic sets the advisory mic holder, last-writer-wins, and emits a
// mic_state event. The lock is not a real lock: there is no ownership
// check on claim.
func (s *Session) ClaimMic(clientID string) {
	s.micMu.Lock()
	s.micHolder = clientID
	s.micMu.Unlock()
	s.Events.Publish(events.Event{Name: "mic_state", Data: map[string]any{"holder": clientID}})
}

// ReleaseMic clears the mic holder if the releasing client currently holds
// it; a release by a non-holder is a no-op.
func (s *Session) ReleaseMic(clientID string) {
	s.micMu.Lock()
	if s.micHolder != clientID {
		s.micMu.Unlock()
		return
	}
	s.micHolder = ""
	s.micMu.Unlock()
	s.Events.Publish(events.Event{Name: "mic_state", Data: map[string]any{"holder": nil}})
}

// MicHolder returns the current advisory mic holder, or "" if unclaimed.
func (s *Session) MicHolder() string {
	s.micMu.Lock()
	defer s.micMu.Unlock()
	return s.micHolder
}
