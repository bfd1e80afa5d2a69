package api

import "net/http"

// Sync handles POST /sync: refreshes the session's clock-offset estimate
// via an upstream heartbeat round-trip.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	result, err := sess.Upstream.Sync(r.Context())
	if err != nil {
		Error(w, http.StatusBadGateway, "upstream sync failed")
		return
	}

	sess.SetSyncOffsetMillis(result.SyncOffsetMillis)
	sess.Touch()

	JSON(w, http.StatusOK, map[string]any{
		"syncOffset":      result.SyncOffsetMillis,
		"roundTripTime":   result.RoundTripTimeMillis,
		"serverTimestamp": result.ServerTimestamp,
		"statusCode":      result.StatusCode,
	})
}
