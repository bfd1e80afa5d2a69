package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"crypto/rand"

	"github.com/go-chi/chi/v5"
	"github.com/livecaption/relay/internal/domain"
)

// requireAdmin enforces the admin-header contract: absent configuration is
// 503, a wrong value is 403. It writes the response and returns false on
// any failure.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !h.cfg.AdminEnabled() {
		Error(w, http.StatusServiceUnavailable, "admin operations are not configured")
		return false
	}
	if !h.authorizeAdmin(r) {
		Error(w, http.StatusForbidden, "invalid admin key")
		return false
	}
	return true
}

type keyRequest struct {
	Owner         string `json:"owner"`
	Email         string `json:"email,omitempty"`
	ExpiresInDays *int   `json:"expiresInDays,omitempty"`
	DailyLimit    *int64 `json:"dailyLimit,omitempty"`
	LifetimeLimit *int64 `json:"lifetimeLimit,omitempty"`
}

// ListKeys handles GET /keys (admin).
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	keys, err := h.repo.ListKeys(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	JSON(w, http.StatusOK, keys)
}

// GetKey handles GET /keys/:key (admin).
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	key, err := h.repo.GetKey(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to look up key")
		return
	}
	if key == nil {
		Error(w, http.StatusNotFound, "key not found")
		return
	}
	JSON(w, http.StatusOK, key)
}

// CreateKey handles POST /keys. With ?freetier it is a rate-gated
// self-service path; otherwise it requires the admin header.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("freetier") {
		h.createFreeTierKey(w, r)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" {
		Error(w, http.StatusBadRequest, "owner is required")
		return
	}

	key := buildKey(req.Owner, req.Email, req.ExpiresInDays, req.DailyLimit, req.LifetimeLimit)
	if err := h.repo.CreateKey(r.Context(), key); err != nil {
		Error(w, http.StatusInternalServerError, "failed to create key")
		return
	}
	JSON(w, http.StatusCreated, key)
}

// createFreeTierKey implements the rate-gated self-service path: default
// limits, one-month expiry, and a refusal of a second record for the same
// email. Throttled per origin since this endpoint has no domain allowlist
// of its own to lean on.
func (h *Handler) createFreeTierKey(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.FreeAPIKeyActive {
		Error(w, http.StatusNotFound, "self-service keys are not enabled")
		return
	}
	if !h.freeTier.allow(clientOrigin(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" || req.Email == "" {
		Error(w, http.StatusBadRequest, "owner and email are required")
		return
	}

	ctx := r.Context()
	existing, err := h.repo.GetKeyByEmail(ctx, req.Email)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to check existing key")
		return
	}
	if existing != nil {
		Error(w, http.StatusConflict, "a key already exists for this email")
		return
	}

	expiresInDays := 30
	dailyDefault := int64(500)
	lifetimeDefault := int64(20000)
	key := buildKey(req.Owner, req.Email, &expiresInDays, &dailyDefault, &lifetimeDefault)
	if err := h.repo.CreateKey(ctx, key); err != nil {
		Error(w, http.StatusInternalServerError, "failed to create key")
		return
	}
	JSON(w, http.StatusCreated, key)
}

func clientOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return r.RemoteAddr
}

func buildKey(owner, email string, expiresInDays *int, dailyLimit, lifetimeLimit *int64) *domain.ApiKey {
	key := &domain.ApiKey{
		Key:           newKeyString(),
		Owner:         owner,
		Email:         email,
		CreatedAt:     time.Now(),
		Active:        true,
		DailyLimit:    dailyLimit,
		LifetimeLimit: lifetimeLimit,
	}
	if expiresInDays != nil {
		expires := time.Now().AddDate(0, 0, *expiresInDays)
		key.ExpiresAt = &expires
	}
	return key
}

func newKeyString() string {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)
	return "lck_" + hex.EncodeToString(buf)
}

// UpdateKey handles PATCH /keys/:key (admin): owner/expiry/limits.
func (h *Handler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	ctx := r.Context()
	existing, err := h.repo.GetKey(ctx, chi.URLParam(r, "key"))
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to look up key")
		return
	}
	if existing == nil {
		Error(w, http.StatusNotFound, "key not found")
		return
	}

	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner != "" {
		existing.Owner = req.Owner
	}
	if req.ExpiresInDays != nil {
		expires := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		existing.ExpiresAt = &expires
	}
	if req.DailyLimit != nil {
		existing.DailyLimit = req.DailyLimit
	}
	if req.LifetimeLimit != nil {
		existing.LifetimeLimit = req.LifetimeLimit
	}

	if err := h.repo.UpdateKey(ctx, existing); err != nil {
		Error(w, http.StatusInternalServerError, "failed to update key")
		return
	}
	JSON(w, http.StatusOK, existing)
}

// DeleteKey handles DELETE /keys/:key (admin): revokes by default, or
// hard-deletes when ?hard=true.
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	key := chi.URLParam(r, "key")
	ctx := r.Context()

	if r.URL.Query().Get("hard") == "true" {
		if err := h.repo.DeleteKey(ctx, key); err != nil {
			Error(w, http.StatusInternalServerError, "failed to delete key")
			return
		}
		JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if err := h.repo.RevokeKey(ctx, key); err != nil {
		Error(w, http.StatusInternalServerError, "failed to revoke key")
		return
	}
	_ = h.repo.AppendAuthEvent(ctx, domain.AuthEventRow{ApiKey: key, EventType: "revoked", OccurredAt: time.Now()})
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
