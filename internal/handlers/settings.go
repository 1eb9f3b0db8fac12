package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/1sub-io/vendor-api/internal/services"
)

type SettingsHandler struct {
	service *services.SettingsService
}

func NewSettingsHandler(service *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

// GetVendorSettings returns notification settings for the authenticated vendor
// GET /api/v1/settings
func (h *SettingsHandler) GetVendorSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, ok := GetUserIDFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	settings, err := h.service.GetAllForVendor(ctx, vendorID)
	if err != nil {
		http.Error(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}

// UpdateVendorSetting updates one allow-listed setting for the vendor
// PUT /api/v1/settings
func (h *SettingsHandler) UpdateVendorSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, ok := GetUserIDFromContext(ctx)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !services.AllowedVendorKey(req.Key) {
		http.Error(w, "Invalid setting key", http.StatusBadRequest)
		return
	}

	if err := h.service.SetForVendor(ctx, vendorID, req.Key, req.Value); err != nil {
		http.Error(w, "Failed to update setting", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "updated"}`))
}
