package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/pkg/database"
)

type ProductHandler struct {
	db *database.DB
}

func NewProductHandler(db *database.DB) *ProductHandler {
	return &ProductHandler{db: db}
}

// ListProducts returns products for a tool owned by the vendor
// GET /api/v1/tools/{id}/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	rows, err := h.db.Pool.Query(r.Context(), `
		SELECT id, tool_id, name, description, pricing_model, is_active, created_at, updated_at
		FROM tool_products
		WHERE tool_id = $1 AND is_active = true
		ORDER BY created_at
	`, toolID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list products")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	products := []*models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.ToolID, &p.Name, &p.Description, &p.PricingModel,
			&p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			continue
		}
		products = append(products, &p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(products)
}

type productRequest struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	PricingModel models.PricingModel `json:"pricing_model"`
}

// CreateProduct adds a purchasable product to a tool
// POST /api/v1/tools/{id}/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}
	if err := req.PricingModel.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := models.Product{
		ToolID:       toolID,
		Name:         req.Name,
		Description:  req.Description,
		PricingModel: req.PricingModel,
		IsActive:     true,
	}

	err := h.db.Pool.QueryRow(r.Context(), `
		INSERT INTO tool_products (tool_id, name, description, pricing_model)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, p.ToolID, p.Name, p.Description, p.PricingModel).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create product")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// UpdateProduct updates a product's fields and pricing
// PUT /api/v1/tools/{id}/products/{productID}
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}
	if err := req.PricingModel.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var p models.Product
	err = h.db.Pool.QueryRow(r.Context(), `
		UPDATE tool_products
		SET name = $1, description = $2, pricing_model = $3, updated_at = NOW()
		WHERE id = $4 AND tool_id = $5
		RETURNING id, tool_id, name, description, pricing_model, is_active, created_at, updated_at
	`, req.Name, req.Description, req.PricingModel, productID, toolID).
		Scan(&p.ID, &p.ToolID, &p.Name, &p.Description, &p.PricingModel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// DeleteProduct soft-deletes a product
// DELETE /api/v1/tools/{id}/products/{productID}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		http.Error(w, "Invalid product ID", http.StatusBadRequest)
		return
	}

	tag, err := h.db.Pool.Exec(r.Context(), `
		UPDATE tool_products SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND tool_id = $2
	`, productID, toolID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID.String()).Msg("Failed to delete product")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if tag.RowsAffected() == 0 {
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ownedToolID parses the tool id path param and enforces vendor ownership
func (h *ProductHandler) ownedToolID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
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
