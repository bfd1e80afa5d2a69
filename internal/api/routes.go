package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps every request body; GET/DELETE requests without a body
// are unaffected since nothing reads past what's sent.
func (h *Handler) maxBodyBytes(next http.Handler) http.Handler {
	limit := h.cfg.MaxRequestBodyBytes
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// RegisterRoutes mounts every endpoint in the external interface table.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(h.maxBodyBytes)

	r.Get("/health", h.Health)
	r.Get("/contact", h.Contact)

	r.Route("/live", func(r chi.Router) {
		r.Post("/", h.RegisterOrRecover)
		r.Get("/", h.GetSession)
		r.Patch("/", h.PatchSession)
		r.Delete("/", h.DeleteSession)
	})

	r.Post("/captions", h.SubmitCaptions)
	r.Get("/events", h.Stream)
	r.Post("/sync", h.Sync)
	r.Post("/mic", h.Mic)

	r.Get("/stats", h.Stats)
	r.Delete("/stats", h.EraseStats)

	r.Route("/keys", func(r chi.Router) {
		r.Get("/", h.ListKeys)
		r.Post("/", h.CreateKey)
		r.Get("/{key}", h.GetKey)
		r.Patch("/{key}", h.UpdateKey)
		r.Delete("/{key}", h.DeleteKey)
	})

	r.Get("/usage", h.Usage)
}
