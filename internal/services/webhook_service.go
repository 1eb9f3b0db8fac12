package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/pkg/database"
)

// SignatureHeader carries webhook signatures, format "t=<unix>,v1=<hex hmac>"
const SignatureHeader = "X-1Sub-Signature"

// Webhook event types delivered to vendor tools
const (
	EventCreditsConsumed       = "credits.consumed"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCanceled  = "subscription.canceled"
	EventCheckoutCompleted     = "checkout.completed"
)

// WebhookService enqueues outbound events and owns the signature scheme.
// Delivery happens in the dispatcher worker.
type WebhookService struct {
	db *database.DB
}

func NewWebhookService(db *database.DB) *WebhookService {
	return &WebhookService{db: db}
}

// Sign produces the signature header value for a payload at the given time
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	mac := computeHMAC(unix, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", unix, mac)
}

// VerifySignature checks a signature header against a payload. Signatures
// older (or newer) than tolerance are rejected to limit replay windows.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) bool {
	if len(payload) == 0 || header == "" {
		return false
	}

	var tsStr, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsStr = v
		case "v1":
			sig = v
		}
	}
	if tsStr == "" || sig == "" {
		return false
	}

	unix, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return false
	}

	age := time.Since(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return false
	}

	expected := computeHMAC(unix, payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func computeHMAC(unix int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event is the JSON body delivered to vendor webhook URLs
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Enqueue stores an event for the dispatcher. Failures are logged rather
// than propagated: a webhook must never fail the transaction that caused it.
func (s *WebhookService) Enqueue(ctx context.Context, toolID uuid.UUID, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to marshal webhook payload")
		return
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO webhook_events (tool_id, event_type, payload)
		VALUES ($1, $2, $3)
	`, toolID, eventType, payload)
	if err != nil {
		log.Error().Err(err).
			Str("tool_id", toolID.String()).
			Str("event", eventType).
			Msg("Failed to enqueue webhook event")
	}
}
