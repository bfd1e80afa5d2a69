// Package api provides the relay's HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/livecaption/relay/internal/config"
	"github.com/livecaption/relay/internal/delivery"
	"github.com/livecaption/relay/internal/identity"
	"github.com/livecaption/relay/internal/sessionstore"
	"github.com/livecaption/relay/internal/store"
	"golang.org/x/time/rate"
)

var errMissingToken = errors.New("missing bearer token")

// Handler bundles the dependencies every sub-handler needs.
type Handler struct {
	repo      store.Repository
	sessions  *sessionstore.Store
	workers   *delivery.Registry
	issuer    *identity.TokenIssuer
	allowlist *identity.DomainAllowlist
	cfg       *config.Config
	bootedAt  time.Time
	freeTier  *originLimiter
}

// freeTierBurst and freeTierWindow implement the documented default posture
// for the self-service key endpoint: 3 requests per 10 minutes per origin.
const (
	freeTierBurst = 3
	freeTierWindow = 10 * time.Minute
)

// NewHandler builds the shared Handler.
func NewHandler(repo store.Repository, sessions *sessionstore.Store, workers *delivery.Registry, issuer *identity.TokenIssuer, allowlist *identity.DomainAllowlist, cfg *config.Config) *Handler {
	return &Handler{
		repo:      repo,
		sessions:  sessions,
		workers:   workers,
		issuer:    issuer,
		allowlist: allowlist,
		cfg:       cfg,
		bootedAt:  time.Now(),
		freeTier:  newOriginLimiter(rate.Every(freeTierWindow/freeTierBurst), freeTierBurst),
	}
}

// JSON writes a JSON response with the given status code, and sets the
// default no-cache header every endpoint gets unless it opts out.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// authorizeBearer extracts and verifies the session bearer token from the
// request, returning its claims. Callers translate a failure into 401.
func (h *Handler) authorizeBearer(r *http.Request) (*identity.Claims, error) {
	raw := identity.TokenFromRequest(r)
	if raw == "" {
		return nil, errMissingToken
	}
	return h.issuer.Verify(raw)
}

// authorizeAdmin reports whether the request carries the configured admin
// key. The caller distinguishes "not configured" (503) from "wrong value"
// (403) by checking h.cfg.AdminEnabled() first.
func (h *Handler) authorizeAdmin(r *http.Request) bool {
	supplied := r.Header.Get("X-Admin-Key")
	return identity.CompareAdminKey(h.cfg.AdminKey, supplied)
}
