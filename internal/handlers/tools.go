package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/pkg/database"
	"github.com/1sub-io/vendor-api/pkg/imaging"
	"github.com/1sub-io/vendor-api/pkg/storage"
)

// Upload size cap before image decoding, covers multipart overhead
const maxUploadBytes = 20 << 20

type ToolHandler struct {
	db    *database.DB
	store *storage.Store
}

func NewToolHandler(db *database.DB, store *storage.Store) *ToolHandler {
	return &ToolHandler{db: db, store: store}
}

const toolColumns = `id, vendor_id, name, description, redirect_url, is_active, metadata, created_at, updated_at`

func scanTool(row pgx.Row) (*models.Tool, error) {
	var t models.Tool
	err := row.Scan(&t.ID, &t.VendorID, &t.Name, &t.Description, &t.RedirectURL,
		&t.IsActive, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTools returns all tools owned by the authenticated vendor
// GET /api/v1/tools
func (h *ToolHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rows, err := h.db.Pool.Query(r.Context(), `
		SELECT `+toolColumns+` FROM tools
		WHERE vendor_id = $1 AND is_active = true
		ORDER BY created_at DESC
	`, vendorID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list tools")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	tools := []*models.Tool{}
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			continue
		}
		tools = append(tools, t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tools)
}

// GetTool returns a single tool
// GET /api/v1/tools/{id}
func (h *ToolHandler) GetTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.loadOwnedTool(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tool)
}

type toolRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	RedirectURL string               `json:"redirect_url"`
	Metadata    *models.ToolMetadata `json:"metadata"`
}

// CreateTool registers a new tool for the vendor
// POST /api/v1/tools
func (h *ToolHandler) CreateTool(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tool := models.Tool{
		VendorID:    vendorID,
		Name:        req.Name,
		Description: req.Description,
		RedirectURL: req.RedirectURL,
		IsActive:    true,
	}
	if req.Metadata != nil {
		tool.Metadata = *req.Metadata
	}

	if err := tool.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.db.Pool.QueryRow(r.Context(), `
		INSERT INTO tools (vendor_id, name, description, redirect_url, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, tool.VendorID, tool.Name, tool.Description, tool.RedirectURL, tool.Metadata).
		Scan(&tool.ID, &tool.CreatedAt, &tool.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create tool")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tool)
}

// UpdateTool updates tool fields and metadata
// PUT /api/v1/tools/{id}
func (h *ToolHandler) UpdateTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.loadOwnedTool(w, r)
	if !ok {
		return
	}

	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name != "" {
		tool.Name = req.Name
	}
	tool.Description = req.Description
	if req.RedirectURL != "" {
		tool.RedirectURL = req.RedirectURL
	}
	if req.Metadata != nil {
		tool.Metadata = *req.Metadata
	}

	if err := tool.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.db.Pool.QueryRow(r.Context(), `
		UPDATE tools
		SET name = $1, description = $2, redirect_url = $3, metadata = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`, tool.Name, tool.Description, tool.RedirectURL, tool.Metadata, tool.ID).Scan(&tool.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("tool_id", tool.ID.String()).Msg("Failed to update tool")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tool)
}

// DeleteTool soft-deletes a tool. History and transactions are preserved.
// DELETE /api/v1/tools/{id}
func (h *ToolHandler) DeleteTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.loadOwnedTool(w, r)
	if !ok {
		return
	}

	_, err := h.db.Pool.Exec(r.Context(), `
		UPDATE tools SET is_active = false, updated_at = NOW() WHERE id = $1
	`, tool.ID)
	if err != nil {
		log.Error().Err(err).Str("tool_id", tool.ID.String()).Msg("Failed to delete tool")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	// Revoke the tool's API key alongside the tool itself
	_, _ = h.db.Pool.Exec(r.Context(), `
		UPDATE api_keys SET is_active = false WHERE tool_id = $1
	`, tool.ID)

	w.WriteHeader(http.StatusOK)
}

// UploadImage optimizes and stores a hero or logo image for a tool.
// Multipart form field "image", kind path param selects the preset.
// POST /api/v1/tools/{id}/images/{kind}
func (h *ToolHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.loadOwnedTool(w, r)
	if !ok {
		return
	}

	var preset imaging.Preset
	kind := chi.URLParam(r, "kind")
	switch kind {
	case "hero":
		preset = imaging.Hero
	case "logo":
		preset = imaging.Logo
	default:
		http.Error(w, "Unknown image kind, expected hero or logo", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Upload too large or malformed", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image form field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	result, err := imaging.Optimize(file, preset)
	if err != nil {
		http.Error(w, "Failed to process image: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	key := fmt.Sprintf("tools/%s/%s-%d%s", tool.ID, kind, time.Now().Unix(), result.Extension())
	publicURL, err := h.store.Put(key, result.Data)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to store image")
		http.Error(w, "Failed to store image", http.StatusInternalServerError)
		return
	}

	switch kind {
	case "hero":
		tool.Metadata.HeroImageURL = publicURL
	case "logo":
		tool.Metadata.LogoURL = publicURL
	}

	_, err = h.db.Pool.Exec(r.Context(), `
		UPDATE tools SET metadata = $1, updated_at = NOW() WHERE id = $2
	`, tool.Metadata, tool.ID)
	if err != nil {
		log.Error().Err(err).Str("tool_id", tool.ID.String()).Msg("Failed to save image URL")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("tool_id", tool.ID.String()).
		Str("kind", kind).
		Int("input_bytes", result.InputBytes).
		Int("output_bytes", result.OutputBytes).
		Float64("reduction_pct", result.ReductionPercent).
		Msg("Image optimized and stored")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"url":               publicURL,
		"width":             result.Width,
		"height":            result.Height,
		"content_type":      result.ContentType,
		"input_bytes":       result.InputBytes,
		"output_bytes":      result.OutputBytes,
		"reduction_percent": result.ReductionPercent,
	})
}

// loadOwnedTool fetches the tool from the id path param and enforces
// vendor ownership. Writes the error response itself on failure.
func (h *ToolHandler) loadOwnedTool(w http.ResponseWriter, r *http.Request) (*models.Tool, bool) {
	vendorID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	toolID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid tool ID", http.StatusBadRequest)
		return nil, false
	}

	tool, err := scanTool(h.db.Pool.QueryRow(r.Context(), `
		SELECT `+toolColumns+` FROM tools WHERE id = $1
	`, toolID))
	if err != nil {
		http.Error(w, "Tool not found", http.StatusNotFound)
		return nil, false
	}

	if tool.VendorID != vendorID {
		// Same status as a missing tool so IDs can't be probed
		http.Error(w, "Tool not found", http.StatusNotFound)
		return nil, false
	}

	return tool, true
}
