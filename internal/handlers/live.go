package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/services"
	"github.com/1sub-io/vendor-api/pkg/database"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers can't set Authorization headers on WebSocket requests, so
	// the session token arrives as a query parameter instead
	CheckOrigin: func(r *http.Request) bool { return true },
}

type LiveHandler struct {
	db   *database.DB
	feed *services.FeedHub
}

func NewLiveHandler(db *database.DB, feed *services.FeedHub) *LiveHandler {
	return &LiveHandler{db: db, feed: feed}
}

// StreamTransactions upgrades to a WebSocket and pushes the tool's new
// transactions as they happen
// GET /api/v1/tools/{id}/live?token=...
func (h *LiveHandler) StreamTransactions(w http.ResponseWriter, r *http.Request) {
	claims, err := parseSessionToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}
	vendorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		http.Error(w, "Unauthorized: Invalid token subject", http.StatusUnauthorized)
		return
	}

	toolID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid tool ID", http.StatusBadRequest)
		return
	}

	var owner uuid.UUID
	err = h.db.Pool.QueryRow(r.Context(), "SELECT vendor_id FROM tools WHERE id = $1", toolID).Scan(&owner)
	if err != nil || owner != vendorID {
		http.Error(w, "Tool not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.feed.Serve(r.Context(), toolID, conn)
}
