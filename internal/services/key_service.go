package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/config"
	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/pkg/crypto"
	"github.com/1sub-io/vendor-api/pkg/database"
)

const (
	keyPrefix    = "sk-tool-"
	secretPrefix = "whsec-"
)

// ErrNoKey is returned when a tool has no API key yet
var ErrNoKey = errors.New("no API key registered for tool")

// KeyService owns the API key lifecycle: plaintext is produced exactly once
// at create/regenerate time, only the SHA-256 hash and display prefix are
// stored, and regeneration invalidates the prior key immediately.
type KeyService struct {
	db  *database.DB
	cfg *config.Config
}

func NewKeyService(db *database.DB, cfg *config.Config) *KeyService {
	return &KeyService{db: db, cfg: cfg}
}

// generateKey returns the plaintext key, its hash and display prefix
func generateKey() (plaintext, hash, prefix string, err error) {
	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("failed to generate key material: %w", err)
	}

	plaintext = keyPrefix + hex.EncodeToString(buf)
	hash = HashKey(plaintext)
	prefix = plaintext[:len(keyPrefix)+8]
	return plaintext, hash, prefix, nil
}

// HashKey returns the stored form of a plaintext API key
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// MaskKey renders a key prefix for display, e.g. "sk-tool-a1b2c3d4...".
func MaskKey(prefix string) string {
	return prefix + "..."
}

// GenerateWebhookSecret returns a new whsec- secret
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}

// Create issues the first key for a tool. The plaintext is returned once and
// never stored.
func (s *KeyService) Create(ctx context.Context, toolID uuid.UUID) (string, *models.ApiKey, error) {
	plaintext, hash, prefix, err := generateKey()
	if err != nil {
		return "", nil, err
	}

	var key models.ApiKey
	err = s.db.Pool.QueryRow(ctx, `
		INSERT INTO api_keys (tool_id, key_hash, key_prefix)
		VALUES ($1, $2, $3)
		RETURNING id, tool_id, key_prefix, is_active, created_at, usage_count
	`, toolID, hash, prefix).Scan(&key.ID, &key.ToolID, &key.KeyPrefix, &key.IsActive, &key.CreatedAt, &key.UsageCount)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	log.Info().Str("tool_id", toolID.String()).Str("prefix", prefix).Msg("API key created")
	return plaintext, &key, nil
}

// Regenerate replaces a tool's key in place. The old plaintext stops working
// the moment this commits; there is no grace period.
func (s *KeyService) Regenerate(ctx context.Context, toolID uuid.UUID) (string, *models.ApiKey, error) {
	plaintext, hash, prefix, err := generateKey()
	if err != nil {
		return "", nil, err
	}

	var key models.ApiKey
	err = s.db.Pool.QueryRow(ctx, `
		UPDATE api_keys
		SET key_hash = $2, key_prefix = $3, rotated_at = NOW(), is_active = TRUE
		WHERE tool_id = $1
		RETURNING id, tool_id, key_prefix, is_active, created_at, rotated_at, usage_count
	`, toolID, hash, prefix).Scan(&key.ID, &key.ToolID, &key.KeyPrefix, &key.IsActive, &key.CreatedAt, &key.RotatedAt, &key.UsageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrNoKey
		}
		return "", nil, fmt.Errorf("failed to regenerate API key: %w", err)
	}

	log.Info().Str("tool_id", toolID.String()).Str("prefix", prefix).Msg("API key regenerated")
	return plaintext, &key, nil
}

// Get returns the stored (masked) key row for a tool
func (s *KeyService) Get(ctx context.Context, toolID uuid.UUID) (*models.ApiKey, error) {
	var key models.ApiKey
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, tool_id, key_prefix, webhook_url, redirect_uri, is_active,
		       created_at, rotated_at, last_used_at, usage_count
		FROM api_keys WHERE tool_id = $1
	`, toolID).Scan(&key.ID, &key.ToolID, &key.KeyPrefix, &key.WebhookURL, &key.RedirectURI,
		&key.IsActive, &key.CreatedAt, &key.RotatedAt, &key.LastUsedAt, &key.UsageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoKey
		}
		return nil, fmt.Errorf("failed to load API key: %w", err)
	}
	return &key, nil
}

// Authenticate resolves a bearer plaintext to its tool. Usage stats are
// updated asynchronously to keep the hot path to a single indexed read.
func (s *KeyService) Authenticate(ctx context.Context, plaintext string) (toolID uuid.UUID, err error) {
	hash := HashKey(plaintext)

	var keyID uuid.UUID
	err = s.db.Pool.QueryRow(ctx, `
		SELECT id, tool_id FROM api_keys WHERE key_hash = $1 AND is_active = TRUE
	`, hash).Scan(&keyID, &toolID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errors.New("invalid API key")
		}
		return uuid.Nil, fmt.Errorf("failed to authenticate key: %w", err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.db.Pool.Exec(ctx,
			`UPDATE api_keys SET last_used_at = NOW(), usage_count = usage_count + 1 WHERE id = $1`, keyID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record key usage")
		}
	}()

	return toolID, nil
}

// ConfigureWebhook sets the delivery URL and rotates the signing secret.
// The plaintext secret is returned once; only the encrypted form is stored.
func (s *KeyService) ConfigureWebhook(ctx context.Context, toolID uuid.UUID, webhookURL string) (string, error) {
	secret, err := GenerateWebhookSecret()
	if err != nil {
		return "", err
	}

	encrypted, err := crypto.Encrypt(s.cfg.EncryptionKey, secret)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE api_keys SET webhook_url = $2, encrypted_webhook_secret = $3 WHERE tool_id = $1
	`, toolID, webhookURL, encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to store webhook config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNoKey
	}

	return secret, nil
}

// SetRedirectURI stores the OAuth-style redirect URI for the launch flow
func (s *KeyService) SetRedirectURI(ctx context.Context, toolID uuid.UUID, redirectURI string) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE api_keys SET redirect_uri = $2 WHERE tool_id = $1`, toolID, redirectURI)
	if err != nil {
		return fmt.Errorf("failed to store redirect URI: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoKey
	}
	return nil
}

// WebhookTarget returns a tool's delivery URL and decrypted signing secret
func (s *KeyService) WebhookTarget(ctx context.Context, toolID uuid.UUID) (url, secret string, err error) {
	var urlPtr, encPtr *string
	err = s.db.Pool.QueryRow(ctx, `
		SELECT webhook_url, encrypted_webhook_secret FROM api_keys WHERE tool_id = $1
	`, toolID).Scan(&urlPtr, &encPtr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrNoKey
		}
		return "", "", fmt.Errorf("failed to load webhook target: %w", err)
	}

	if urlPtr == nil || *urlPtr == "" || encPtr == nil {
		return "", "", errors.New("webhook not configured")
	}

	secret, err = crypto.Decrypt(s.cfg.EncryptionKey, *encPtr)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt webhook secret: %w", err)
	}

	return *urlPtr, secret, nil
}
