package api

import (
	"net/http"
	"strconv"

	"github.com/livecaption/relay/internal/events"
)

// Stream handles GET /events: subscribes the caller to the session's event
// fan-out. Token invalidity or a missing session fails before any stream
// bytes are written (401/404); once streaming starts, a client disconnect
// just detaches the subscriber without affecting others or the session.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	sess.Touch()

	lastEventID := int64(0)
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	connectedData := map[string]any{"sessionId": sess.ID}
	if holder := sess.MicHolder(); holder != "" {
		connectedData["micHolder"] = holder
	}

	if err := events.Serve(r.Context(), w, sess.Events, lastEventID, connectedData); err != nil {
		Error(w, http.StatusInternalServerError, "event stream failed")
	}
}
