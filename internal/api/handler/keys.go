package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/autolister/internal/api/middleware"
	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/apikey"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

type KeyAdmin interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type KeyHandlers struct {
	store KeyAdmin
	now   func() time.Time
}

func NewKeyHandlers(s KeyAdmin) *KeyHandlers {
	return &KeyHandlers{store: s, now: time.Now}
}

type createdKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// Create handles POST /api/v1/admin/keys. The raw key is in this response
// only.
func (h *KeyHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}

	key, raw, err := apikey.New(req.Name, req.Scopes, h.now())
	if errors.Is(err, apikey.ErrInvalidKey) {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
		return
	}
	if err != nil {
		internalError(w, r, err, "Failed to generate API key")
		return
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		storeError(w, r, err, "api key")
		return
	}

	slog.Info("api key created", "key_id", key.ID, "key_prefix", key.KeyPrefix, "scopes", key.Scopes)
	response.Created(w, createdKey{APIKey: key, Key: raw})
}

// List handles GET /api/v1/admin/keys.
func (h *KeyHandlers) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		internalError(w, r, err, "Failed to list API keys")
		return
	}
	response.JSON(w, keys)
}

// Revoke handles DELETE /api/v1/admin/keys/{keyID}. A key cannot revoke
// itself.
func (h *KeyHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		invalidField(w, "keyID", "keyID must be a UUID")
		return
	}
	if self, ok := mw.KeyID(r); ok && self == id {
		invalidField(w, "keyID", "cannot revoke the key used for this request")
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		storeError(w, r, err, "api key")
		return
	}
	slog.Info("api key revoked", "key_id", id)
	response.NoContent(w)
}
