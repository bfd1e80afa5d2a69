package api

import (
	"net/http"
	"time"
)

// Health handles GET /health: unauthenticated, not allowlist-gated, and
// explicitly cache-forbidden.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	JSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"uptime":         time.Since(h.bootedAt).Seconds(),
		"activeSessions": h.sessions.Size(),
	})
}

// Contact handles GET /contact: 404 if no contact fields are configured.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Contact.Empty() {
		Error(w, http.StatusNotFound, "no contact information configured")
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"name":    h.cfg.Contact.Name,
		"email":   h.cfg.Contact.Email,
		"phone":   h.cfg.Contact.Phone,
		"website": h.cfg.Contact.Website,
	})
}
