package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/internal/services"
	"github.com/1sub-io/vendor-api/pkg/database"
)

type KeyHandler struct {
	db   *database.DB
	keys *services.KeyService
}

func NewKeyHandler(db *database.DB, keys *services.KeyService) *KeyHandler {
	return &KeyHandler{db: db, keys: keys}
}

type keyResponse struct {
	*models.ApiKey
	MaskedKey string `json:"masked_key"`
	// Key is only present right after create or regenerate
	Key string `json:"key,omitempty"`
}

// GetKey returns the tool's API key metadata with the key masked
// GET /api/v1/tools/{id}/key
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	key, err := h.keys.Get(r.Context(), toolID)
	if err != nil {
		if errors.Is(err, services.ErrNoKey) {
			http.Error(w, "No API key exists for this tool", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to get API key")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keyResponse{ApiKey: key, MaskedKey: services.MaskKey(key.KeyPrefix)})
}

// CreateKey issues the tool's API key. The plaintext key appears in this
// response only and is never retrievable again.
// POST /api/v1/tools/{id}/key
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	plaintext, key, err := h.keys.Create(r.Context(), toolID)
	if err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to create API key")
		http.Error(w, "Failed to create API key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(keyResponse{ApiKey: key, MaskedKey: services.MaskKey(key.KeyPrefix), Key: plaintext})
}

// RegenerateKey replaces the key in place. The old key stops working
// immediately, there is no grace period.
// POST /api/v1/tools/{id}/key/regenerate
func (h *KeyHandler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	plaintext, key, err := h.keys.Regenerate(r.Context(), toolID)
	if err != nil {
		if errors.Is(err, services.ErrNoKey) {
			http.Error(w, "No API key exists for this tool", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to regenerate API key")
		http.Error(w, "Failed to regenerate API key", http.StatusInternalServerError)
		return
	}

	log.Info().Str("tool_id", toolID.String()).Msg("API key regenerated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keyResponse{ApiKey: key, MaskedKey: services.MaskKey(key.KeyPrefix), Key: plaintext})
}

type webhookConfigRequest struct {
	WebhookURL string `json:"webhook_url"`
}

// ConfigureWebhook sets the delivery URL and rotates the signing secret.
// The plaintext secret appears in this response only.
// PUT /api/v1/tools/{id}/key/webhook
func (h *KeyHandler) ConfigureWebhook(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	var req webhookConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	parsed, err := url.Parse(req.WebhookURL)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		http.Error(w, "webhook_url must be an absolute https URL", http.StatusBadRequest)
		return
	}

	secret, err := h.keys.ConfigureWebhook(r.Context(), toolID, req.WebhookURL)
	if err != nil {
		if errors.Is(err, services.ErrNoKey) {
			http.Error(w, "No API key exists for this tool", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to configure webhook")
		http.Error(w, "Failed to configure webhook", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"webhook_url":    req.WebhookURL,
		"webhook_secret": secret,
	})
}

type redirectURIRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

// SetRedirectURI sets the OAuth-style redirect URI used by tool launches
// PUT /api/v1/tools/{id}/key/redirect-uri
func (h *KeyHandler) SetRedirectURI(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	var req redirectURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	parsed, err := url.Parse(req.RedirectURI)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		http.Error(w, "redirect_uri must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}

	if err := h.keys.SetRedirectURI(r.Context(), toolID, req.RedirectURI); err != nil {
		if errors.Is(err, services.ErrNoKey) {
			http.Error(w, "No API key exists for this tool", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to set redirect URI")
		http.Error(w, "Failed to set redirect URI", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *KeyHandler) ownedToolID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vendorID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}

	toolID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid tool ID", http.StatusBadRequest)
		return uuid.Nil, false
	}

	var owner uuid.UUID
	err = h.db.Pool.QueryRow(r.Context(), "SELECT vendor_id FROM tools WHERE id = $1", toolID).Scan(&owner)
	if err != nil || owner != vendorID {
		http.Error(w, "Tool not found", http.StatusNotFound)
		return uuid.Nil, false
	}

	return toolID, true
}
