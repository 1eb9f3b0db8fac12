package models

import (
	"time"

	"github.com/google/uuid"
)

// ApiKey is the stored form of a tool's API key. The plaintext is shown
// exactly once at creation or regeneration; only the hash and display
// prefix survive.
type ApiKey struct {
	ID         uuid.UUID `json:"id"`
	ToolID     uuid.UUID `json:"tool_id"`
	KeyHash    string    `json:"-"`
	KeyPrefix  string    `json:"key_prefix"`
	WebhookURL *string   `json:"webhook_url,omitempty"`
	// Encrypted at rest; decrypted only for signing outbound deliveries
	EncryptedWebhookSecret *string    `json:"-"`
	RedirectURI            *string    `json:"redirect_uri,omitempty"`
	IsActive               bool       `json:"is_active"`
	CreatedAt              time.Time  `json:"created_at"`
	RotatedAt              *time.Time `json:"rotated_at,omitempty"`
	LastUsedAt             *time.Time `json:"last_used_at,omitempty"` // Pointer to handle NULL
	UsageCount             int64      `json:"usage_count"`
}
