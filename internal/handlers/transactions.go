package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/services"
	"github.com/1sub-io/vendor-api/pkg/database"
)

type TransactionHandler struct {
	db      *database.DB
	credits *services.CreditService
	charts  *services.ChartService
}

func NewTransactionHandler(db *database.DB, credits *services.CreditService, charts *services.ChartService) *TransactionHandler {
	return &TransactionHandler{db: db, credits: credits, charts: charts}
}

// ListTransactions returns the tool's credit ledger, newest first.
// Query params: type, from, to (RFC 3339), limit, offset.
// GET /api/v1/tools/{id}/transactions
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	filter, err := parseTxFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txs, err := h.credits.ListByTool(r.Context(), toolID, filter)
	if err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to list transactions")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// ExportTransactions streams the filtered ledger as a CSV download
// GET /api/v1/tools/{id}/transactions/export
func (h *TransactionHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	filter, err := parseTxFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Exports want the full window, not a page
	filter.Limit = 1000
	filter.Offset = 0

	txs, err := h.credits.ListByTool(r.Context(), toolID, filter)
	if err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to load transactions for export")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("transactions-%s-%s.csv", toolID, time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := services.ExportTransactionsCSV(w, txs); err != nil {
		log.Error().Err(err).Msg("CSV export write failed")
	}
}

// GetStats returns aggregate earnings and usage for a tool
// GET /api/v1/tools/{id}/stats
func (h *TransactionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	stats, err := h.credits.Stats(r.Context(), toolID)
	if err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to compute stats")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetTopUsers returns the highest-spending users of a tool
// GET /api/v1/tools/{id}/stats/top-users
func (h *TransactionHandler) GetTopUsers(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	users, err := h.credits.TopUsers(r.Context(), toolID, limit)
	if err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to compute top users")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

// GetRevenueSeries returns daily earnings for the requested window
// GET /api/v1/tools/{id}/stats/revenue?days=30
func (h *TransactionHandler) GetRevenueSeries(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	series, err := h.credits.RevenueSeries(r.Context(), toolID, days)
	if err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to compute revenue series")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(series)
}

// GetRevenueChart renders the revenue series as a PNG chart
// GET /api/v1/tools/{id}/stats/revenue/chart?days=30
func (h *TransactionHandler) GetRevenueChart(w http.ResponseWriter, r *http.Request) {
	toolID, ok := h.ownedToolID(w, r)
	if !ok {
		return
	}

	var toolName string
	if err := h.db.Pool.QueryRow(r.Context(), "SELECT name FROM tools WHERE id = $1", toolID).Scan(&toolName); err != nil {
		toolName = "Tool"
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	series, err := h.credits.RevenueSeries(r.Context(), toolID, days)
	if err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to compute revenue series")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	png, err := h.charts.GenerateRevenueChartPNG(toolName, series)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render revenue chart")
		http.Error(w, "Failed to render chart", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func parseTxFilter(r *http.Request) (services.TxFilter, error) {
	var f services.TxFilter

	q := r.URL.Query()
	switch t := q.Get("type"); t {
	case "", "add", "subtract":
		f.Type = t
	default:
		return f, fmt.Errorf("type must be add or subtract")
	}

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return f, fmt.Errorf("from must be RFC 3339")
		}
		f.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return f, fmt.Errorf("to must be RFC 3339")
		}
		f.To = t
	}

	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func (h *TransactionHandler) ownedToolID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
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
