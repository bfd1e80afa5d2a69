package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/livecaption/relay/internal/domain"
	"github.com/livecaption/relay/internal/sessionstore"
	"github.com/livecaption/relay/internal/upstream"
)

type registerRequest struct {
	ApiKey    string  `json:"apiKey"`
	StreamKey string  `json:"streamKey"`
	Domain    string  `json:"domain"`
	Sequence  *uint64 `json:"sequence,omitempty"`
}

type registerResponse struct {
	Token      string `json:"token"`
	SessionID  string `json:"sessionId"`
	Sequence   uint64 `json:"sequence"`
	SyncOffset int64  `json:"syncOffset"`
	StartedAt  string `json:"startedAt"`
}

// RegisterOrRecover handles POST /live: registers a new session, or
// recovers the existing one for the same (apiKey, streamKey, domain)
// triple, idempotently. Re-registering within the session's TTL always
// returns the same sessionId and token. A registration after the original
// session has expired is always treated as a new session — whether the
// upstream considers the resumed sequence "new" or "continued" is outside
// this relay's control and must be documented for integrators.
func (h *Handler) RegisterOrRecover(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ApiKey == "" || req.StreamKey == "" || req.Domain == "" {
		Error(w, http.StatusBadRequest, "apiKey, streamKey, and domain are required")
		return
	}

	if !h.allowlist.Allowed(req.Domain) {
		h.recordAuthEvent(r, req.ApiKey, req.Domain, "denied")
		Error(w, http.StatusForbidden, "domain_not_allowed")
		return
	}

	ctx := r.Context()
	key, err := h.repo.GetKey(ctx, req.ApiKey)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to look up api key")
		return
	}

	switch domain.Validate(key) {
	case domain.ValidationUnknownKey:
		h.recordAuthEvent(r, req.ApiKey, req.Domain, "unknown_key")
		Error(w, http.StatusUnauthorized, "unknown_key")
		return
	case domain.ValidationRevoked:
		h.recordAuthEvent(r, req.ApiKey, req.Domain, "revoked")
		Error(w, http.StatusUnauthorized, "API key revoked")
		return
	case domain.ValidationExpired:
		h.recordAuthEvent(r, req.ApiKey, req.Domain, "expired")
		Error(w, http.StatusUnauthorized, "API key expired")
		return
	}

	sessionID := sessionstore.MakeSessionID(req.ApiKey, req.StreamKey, req.Domain)
	if existing, ok := h.sessions.Get(sessionID); ok {
		JSON(w, http.StatusOK, registerResponse{
			Token:      existing.Token,
			SessionID:  existing.ID,
			Sequence:   existing.Sequence(),
			SyncOffset: existing.SyncOffsetMillis(),
			StartedAt:  existing.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
		return
	}

	client, err := upstream.New(h.cfg.UpstreamBaseURL, req.StreamKey)
	if err != nil {
		Error(w, http.StatusInternalServerError, "upstream is misconfigured")
		return
	}
	if err := client.Start(ctx); err != nil {
		Error(w, http.StatusBadGateway, "failed to arm upstream client")
		return
	}

	token, err := h.issuer.Issue(sessionID, req.ApiKey, req.StreamKey, req.Domain)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	sess, created := h.sessions.Create(req.ApiKey, req.StreamKey, req.Domain, token, client)
	if !created {
		// Lost a race with a concurrent registration for the same triple.
		JSON(w, http.StatusOK, registerResponse{
			Token:      sess.Token,
			SessionID:  sess.ID,
			Sequence:   sess.Sequence(),
			SyncOffset: sess.SyncOffsetMillis(),
			StartedAt:  sess.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
		return
	}

	if req.Sequence != nil {
		sess.SetSequence(*req.Sequence)
	}

	h.workers.GetOrCreate(sess, h.repo)

	if err := h.repo.IncrementHourly(ctx, req.Domain, sess.StartedAt, domain.HourlyRollup{SessionsStarted: 1}); err != nil {
		slog.Error("failed to increment session-started rollup", "session_id", sess.ID, "error", err)
	}

	JSON(w, http.StatusOK, registerResponse{
		Token:      sess.Token,
		SessionID:  sess.ID,
		Sequence:   sess.Sequence(),
		SyncOffset: sess.SyncOffsetMillis(),
		StartedAt:  sess.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

// GetSession handles GET /live.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	sess.Touch()
	JSON(w, http.StatusOK, map[string]any{
		"sequence":   sess.Sequence(),
		"syncOffset": sess.SyncOffsetMillis(),
	})
}

type patchSessionRequest struct {
	Sequence *uint64 `json:"sequence"`
}

// PatchSession handles PATCH /live.
func (h *Handler) PatchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req patchSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sequence == nil {
		Error(w, http.StatusBadRequest, "sequence is required")
		return
	}
	sess.SetSequence(*req.Sequence)
	sess.Touch()
	JSON(w, http.StatusOK, map[string]any{"sequence": sess.Sequence()})
}

// DeleteSession handles DELETE /live.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authorizeBearer(r)
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	h.workers.Remove(claims.SessionID)
	if _, ok := h.sessions.Remove(r.Context(), claims.SessionID, sessionstore.EndedByClient); !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) recordAuthEvent(r *http.Request, apiKey, domainName, eventType string) {
	if h.repo == nil {
		return
	}
	_ = h.repo.AppendAuthEvent(r.Context(), domain.AuthEventRow{
		ApiKey:     apiKey,
		Domain:     domainName,
		EventType:  eventType,
		OccurredAt: time.Now(),
	})
}

// sessionFromRequest authorizes the bearer token and resolves the session
// it names, writing a response and returning ok=false on any failure.
func (h *Handler) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*sessionstore.Session, bool) {
	claims, err := h.authorizeBearer(r)
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid or missing token")
		return nil, false
	}
	sess, found := h.sessions.Get(claims.SessionID)
	if !found {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
