package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/config"
	"github.com/1sub-io/vendor-api/internal/services"
	"github.com/1sub-io/vendor-api/pkg/database"
)

const (
	maxReasonLength         = 500
	maxIdempotencyKeyLength = 255
)

// PlatformHandler serves the API consumed by tool backends through the
// published SDKs, authenticated by sk-tool API keys.
type PlatformHandler struct {
	db       *database.DB
	cfg      *config.Config
	credits  *services.CreditService
	subs     *services.SubscriptionService
	links    *services.LinkService
	webhooks *services.WebhookService
	notify   *services.NotifyService
	feed     *services.FeedHub
}

func NewPlatformHandler(db *database.DB, cfg *config.Config, credits *services.CreditService,
	subs *services.SubscriptionService, links *services.LinkService,
	webhooks *services.WebhookService, notify *services.NotifyService, feed *services.FeedHub) *PlatformHandler {
	return &PlatformHandler{
		db:       db,
		cfg:      cfg,
		credits:  credits,
		subs:     subs,
		links:    links,
		webhooks: webhooks,
		notify:   notify,
		feed:     feed,
	}
}

type consumeRequest struct {
	UserID         string `json:"user_id"`
	ToolUserID     string `json:"tool_user_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

type consumeResponse struct {
	Success       bool   `json:"success"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
	IsDuplicate   bool   `json:"is_duplicate"`
}

// Consume debits a user's credits on behalf of the calling tool
// POST /api/v1/credits/consume
func (h *PlatformHandler) Consume(w http.ResponseWriter, r *http.Request) {
	toolID, ok := GetToolIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing tool context")
		return
	}

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid JSON body")
		return
	}

	if req.Amount < 1 || req.Amount > h.cfg.MaxConsumeAmount {
		writeErrorDetails(w, http.StatusBadRequest, CodeValidationError, "amount out of range", map[string]interface{}{
			"min": 1, "max": h.cfg.MaxConsumeAmount,
		})
		return
	}
	if len(req.Reason) > maxReasonLength {
		writeError(w, http.StatusBadRequest, CodeValidationError, "reason exceeds 500 characters")
		return
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		writeError(w, http.StatusBadRequest, CodeValidationError, "idempotency_key exceeds 255 characters")
		return
	}

	userID, err := h.resolveUserID(r, toolID, req.UserID, req.ToolUserID)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "User not found")
		return
	}

	result, err := h.credits.Consume(r.Context(), toolID, userID, req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		var insufficient *services.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			writeErrorDetails(w, http.StatusBadRequest, CodeInsufficientCredits, "Insufficient credits", map[string]interface{}{
				"current_balance": insufficient.CurrentBalance,
				"required":        insufficient.Required,
				"shortfall":       insufficient.Required - insufficient.CurrentBalance,
			})
			return
		}
		if errors.Is(err, services.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "User not found")
			return
		}
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Consume failed")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal error")
		return
	}

	// Side effects only fire once per idempotency key
	if !result.IsDuplicate {
		h.afterConsume(r, toolID, userID, req, result)
	}

	writeJSON(w, http.StatusOK, consumeResponse{
		Success:       true,
		NewBalance:    result.NewBalance,
		TransactionID: result.TransactionID.String(),
		IsDuplicate:   result.IsDuplicate,
	})
}

// afterConsume enqueues the webhook and fires notifications and the live
// feed. None of these can fail the consume response.
func (h *PlatformHandler) afterConsume(r *http.Request, toolID, userID uuid.UUID, req consumeRequest, result *services.ConsumeResult) {
	ctx := r.Context()

	var toolName string
	var vendorID uuid.UUID
	if err := h.db.Pool.QueryRow(ctx, "SELECT name, vendor_id FROM tools WHERE id = $1", toolID).
		Scan(&toolName, &vendorID); err != nil {
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Failed to load tool for consume side effects")
		return
	}

	event := services.Event{
		ID:        uuid.New(),
		Type:      services.EventCreditsConsumed,
		CreatedAt: time.Now(),
	}
	event.Data, _ = json.Marshal(map[string]interface{}{
		"tool_id":        toolID,
		"user_id":        userID,
		"amount":         req.Amount,
		"reason":         req.Reason,
		"transaction_id": result.TransactionID,
	})
	h.webhooks.Enqueue(ctx, toolID, event.Type, event)

	go h.notify.NotifySale(context.Background(), services.SaleEvent{
		ToolID:     toolID,
		ToolName:   toolName,
		VendorID:   vendorID,
		BuyerID:    userID,
		Amount:     req.Amount,
		Reason:     req.Reason,
		NewBalance: result.NewBalance,
	})

	h.feed.Broadcast(services.FeedEvent{
		Type:          "transaction",
		ToolID:        toolID,
		TransactionID: result.TransactionID,
		UserID:        userID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		CreatedAt:     time.Now(),
	})
}

type verifyRequest struct {
	OneSubUserID string `json:"oneSubUserId"`
	ToolUserID   string `json:"toolUserId"`
	Email        string `json:"email"`
	EmailSHA256  string `json:"emailSha256"`
}

// Verify reports a user's subscription and credit state to the tool
// POST /api/v1/tools/subscriptions/verify
func (h *PlatformHandler) Verify(w http.ResponseWriter, r *http.Request) {
	toolID, ok := GetToolIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing tool context")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid JSON body")
		return
	}

	lookup := services.VerifyLookup{
		OneSubUserID: req.OneSubUserID,
		ToolUserID:   req.ToolUserID,
		EmailSHA256:  req.EmailSHA256,
	}
	// Raw email is accepted and hashed server side
	if lookup.EmailSHA256 == "" && req.Email != "" {
		lookup.EmailSHA256 = services.HashEmail(req.Email)
	}
	if lookup.OneSubUserID == "" && lookup.ToolUserID == "" && lookup.EmailSHA256 == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "One of oneSubUserId, toolUserId or emailSha256 is required")
		return
	}

	result, err := h.subs.Verify(r.Context(), toolID, lookup)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "User not found")
			return
		}
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Verify failed")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type exchangeRequest struct {
	Code       string `json:"code"`
	ToolUserID string `json:"toolUserId"`
	// Older SDK releases send the tool user id under redirectUri
	RedirectURI string `json:"redirectUri"`
}

// ExchangeLinkCode consumes a link code and binds the tool-side user ID
// POST /api/v1/authorize/exchange
func (h *PlatformHandler) ExchangeLinkCode(w http.ResponseWriter, r *http.Request) {
	toolID, ok := GetToolIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing tool context")
		return
	}

	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid JSON body")
		return
	}
	toolUserID := req.ToolUserID
	if toolUserID == "" {
		toolUserID = req.RedirectURI
	}
	if toolUserID == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "toolUserId is required")
		return
	}

	result, err := h.links.Exchange(r.Context(), toolID, req.Code, toolUserID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, CodeInvalidCode, "Link code is invalid, expired or already used")
			return
		}
		log.Error().Err(err).Str("tool_id", toolID.String()).Msg("Link exchange failed")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// IssueLinkCode creates a short-lived account link code for the
// authenticated user to paste into a tool
// POST /api/v1/link-code
func (h *PlatformHandler) IssueLinkCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	code, expiresAt, err := h.links.IssueCode(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to issue link code")
		http.Error(w, "Failed to issue link code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":       code,
		"expires_at": expiresAt,
	})
}

// Launch issues a short-lived launch token and returns the tool URL to
// open, token appended as a query parameter
// POST /api/v1/tools/{id}/launch
func (h *PlatformHandler) Launch(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	toolID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid tool ID", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var redirectURL string
	var isActive bool
	err = h.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(NULLIF(k.redirect_uri, ''), t.redirect_url), t.is_active
		FROM tools t
		LEFT JOIN api_keys k ON k.tool_id = t.id
		WHERE t.id = $1
	`, toolID).Scan(&redirectURL, &isActive)
	if err != nil || !isActive {
		http.Error(w, "Tool not found", http.StatusNotFound)
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":     userID.String(),
		"tool_id": toolID.String(),
		"purpose": "launch",
		"exp":     now.Add(h.cfg.LaunchTokenTTL).Unix(),
		"iat":     now.Unix(),
		"iss":     "1sub-vendor-api",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(jwtSecret()))
	if err != nil {
		http.Error(w, "Failed to generate launch token", http.StatusInternalServerError)
		return
	}

	launchURL := redirectURL
	if strings.Contains(redirectURL, "?") {
		launchURL += "&token=" + tokenString
	} else {
		launchURL += "?token=" + tokenString
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"url":        launchURL,
		"token":      tokenString,
		"expires_at": now.Add(h.cfg.LaunchTokenTTL),
	})
}

// resolveUserID maps the request's user reference to a platform user ID
func (h *PlatformHandler) resolveUserID(r *http.Request, toolID uuid.UUID, rawUserID, toolUserID string) (uuid.UUID, error) {
	if rawUserID != "" {
		return uuid.Parse(rawUserID)
	}
	if toolUserID == "" {
		return uuid.Nil, services.ErrUserNotFound
	}

	var id uuid.UUID
	err := h.db.Pool.QueryRow(r.Context(), `
		SELECT user_id FROM user_links WHERE tool_id = $1 AND tool_user_id = $2
	`, toolID, toolUserID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, services.ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}
