package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/pkg/database"
)

// codePattern is the published link code format: 6-10 uppercase alphanumerics
var codePattern = regexp.MustCompile(`^[A-Z0-9]{6,10}$`)

// codeAlphabet omits ambiguous characters (0/O, 1/I) for readability
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ErrInvalidCode is returned for malformed, unknown, expired or already
// consumed link codes. Tools get no distinction between those cases.
var ErrInvalidCode = errors.New("invalid or expired link code")

// LinkResult is the outcome of a code exchange. Field names follow the
// public API (camelCase, per the published SDKs).
type LinkResult struct {
	Linked       bool      `json:"linked"`
	OneSubUserID string    `json:"oneSubUserId"`
	ToolUserID   string    `json:"toolUserId"`
	LinkedAt     time.Time `json:"linkedAt"`
}

// linkPool is the pool surface the service uses. *pgxpool.Pool satisfies
// it; tests substitute a mock.
type linkPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LinkService issues short-lived account-link codes to users and exchanges
// them, one-time, for a stable tool_user_id binding.
type LinkService struct {
	pool linkPool
	ttl  time.Duration
}

func NewLinkService(db *database.DB, ttl time.Duration) *LinkService {
	return &LinkService{pool: db.Pool, ttl: ttl}
}

// NormalizeCode uppercases and trims a user-entered code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCodeFormat reports whether a code matches the published format
func ValidCodeFormat(code string) bool {
	return codePattern.MatchString(NormalizeCode(code))
}

// IssueCode creates a fresh code for a user. Outstanding codes for the same
// user are revoked so only the newest one works.
func (s *LinkService) IssueCode(ctx context.Context, userID uuid.UUID) (string, time.Time, error) {
	code, err := randomCode(6)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().Add(s.ttl)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM link_codes WHERE user_id = $1 AND consumed_at IS NULL
	`, userID); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to revoke old codes: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO link_codes (code, user_id, expires_at) VALUES ($1, $2, $3)
	`, code, userID, expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store link code: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to commit: %w", err)
	}

	return code, expiresAt, nil
}

// Exchange consumes a code and binds toolUserID to the code's owner for the
// calling tool. Re-linking the same tool_user_id moves the binding.
func (s *LinkService) Exchange(ctx context.Context, toolID uuid.UUID, code, toolUserID string) (*LinkResult, error) {
	normalized := NormalizeCode(code)
	if !codePattern.MatchString(normalized) {
		return nil, ErrInvalidCode
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE link_codes SET consumed_at = NOW()
		WHERE code = $1 AND consumed_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, normalized).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}

	link := models.UserLink{ToolID: toolID, ToolUserID: toolUserID, UserID: userID}
	err = tx.QueryRow(ctx, `
		INSERT INTO user_links (tool_id, tool_user_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (tool_id, tool_user_id) DO UPDATE
		SET user_id = EXCLUDED.user_id, linked_at = NOW()
		RETURNING linked_at
	`, link.ToolID, link.ToolUserID, link.UserID).Scan(&link.LinkedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store link: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	log.Info().
		Str("tool_id", toolID.String()).
		Str("user_id", userID.String()).
		Msg("Account linked via code")

	return &LinkResult{
		Linked:       true,
		OneSubUserID: link.UserID.String(),
		ToolUserID:   link.ToolUserID,
		LinkedAt:     link.LinkedAt,
	}, nil
}

func randomCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}
