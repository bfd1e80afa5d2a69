package api

import (
	"encoding/json"
	"net/http"
)

type micRequest struct {
	Action   string `json:"action"` // "claim" | "release"
	ClientID string `json:"clientId"`
}

// Mic handles POST /mic: the advisory mic lock is last-writer-wins, not a
// real lock. A release by a non-holder is a no-op.
func (h *Handler) Mic(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req micRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "claim":
		sess.ClaimMic(req.ClientID)
	case "release":
		sess.ReleaseMic(req.ClientID)
	default:
		Error(w, http.StatusBadRequest, "action must be claim or release")
		return
	}

	sess.Touch()
	JSON(w, http.StatusOK, map[string]any{"ok": true, "micHolder": sess.MicHolder()})
}
