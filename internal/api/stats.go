package api

import (
	"net/http"

	"github.com/livecaption/relay/internal/sessionstore"
)

// Stats handles GET /stats: per-key usage, recent sessions, recent errors,
// and recent auth events for the caller's own key.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authorizeBearer(r)
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	stats, err := h.repo.Stats(r.Context(), claims.ApiKey)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// EraseStats handles DELETE /stats: anonymises the caller's key (blank
// owner, revoke, drop dependent rows) and tears down any of its live
// sessions with endedBy=erasure.
func (h *Handler) EraseStats(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authorizeBearer(r)
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	ctx := r.Context()
	for _, sess := range h.sessions.All() {
		if sess.ApiKey == claims.ApiKey {
			h.workers.Remove(sess.ID)
			h.sessions.Remove(ctx, sess.ID, sessionstore.EndedByErasure)
		}
	}

	if err := h.repo.Anonymise(ctx, claims.ApiKey); err != nil {
		Error(w, http.StatusInternalServerError, "failed to erase key data")
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
