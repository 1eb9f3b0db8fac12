package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/pkg/database"
)

// VerifyLookup identifies the user a tool is asking about. Exactly one of
// the fields needs to be set; precedence is user id, tool user id, email hash.
type VerifyLookup struct {
	OneSubUserID string
	ToolUserID   string
	EmailSHA256  string
}

// VerifyResult is the subscription status reported back to tools. Field
// names follow the public API (camelCase, per the published SDKs).
type VerifyResult struct {
	Active           bool       `json:"active"`
	OneSubUserID     string     `json:"oneSubUserId"`
	ToolUserID       *string    `json:"toolUserId,omitempty"`
	PlanName         *string    `json:"plan,omitempty"`
	CreditsRemaining int64      `json:"creditsRemaining"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
	TrialEndsAt      *time.Time `json:"trialEndsAt,omitempty"`
}

// SubscriptionService resolves verify lookups against user_profiles,
// user_links and tool_subscriptions.
type SubscriptionService struct {
	db *database.DB
}

func NewSubscriptionService(db *database.DB) *SubscriptionService {
	return &SubscriptionService{db: db}
}

// HashEmail normalizes an email (lowercase, trimmed) and returns its
// SHA-256 hex digest, matching what SDK clients send.
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Verify resolves the lookup to a user and reports their subscription state
// for the calling tool.
func (s *SubscriptionService) Verify(ctx context.Context, toolID uuid.UUID, lookup VerifyLookup) (*VerifyResult, error) {
	userID, toolUserID, err := s.resolveUser(ctx, toolID, lookup)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{OneSubUserID: userID.String(), ToolUserID: toolUserID}

	err = s.db.Pool.QueryRow(ctx,
		`SELECT credits_balance FROM user_profiles WHERE id = $1`, userID).Scan(&res.CreditsRemaining)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}

	// Most recent active subscription wins when a user holds several
	var sub models.ToolSubscription
	var planName string
	err = s.db.Pool.QueryRow(ctx, `
		SELECT s.id, s.product_id, s.status, s.current_period_end, s.trial_ends_at, p.name
		FROM tool_subscriptions s
		JOIN tool_products p ON p.id = s.product_id
		WHERE s.tool_id = $1 AND s.user_id = $2 AND s.status = 'active'
		ORDER BY s.created_at DESC
		LIMIT 1
	`, toolID, userID).Scan(&sub.ID, &sub.ProductID, &sub.Status, &sub.CurrentPeriodEnd, &sub.TrialEndsAt, &planName)
	switch {
	case err == nil:
		res.Active = true
		res.PlanName = &planName
		res.CurrentPeriodEnd = sub.CurrentPeriodEnd
		res.TrialEndsAt = sub.TrialEndsAt
	case errors.Is(err, pgx.ErrNoRows):
		// No subscription; still a valid answer
	default:
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	return res, nil
}

func (s *SubscriptionService) resolveUser(ctx context.Context, toolID uuid.UUID, lookup VerifyLookup) (uuid.UUID, *string, error) {
	switch {
	case lookup.OneSubUserID != "":
		id, err := uuid.Parse(lookup.OneSubUserID)
		if err != nil {
			return uuid.Nil, nil, ErrUserNotFound
		}
		var exists bool
		if err := s.db.Pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM user_profiles WHERE id = $1)`, id).Scan(&exists); err != nil {
			return uuid.Nil, nil, err
		}
		if !exists {
			return uuid.Nil, nil, ErrUserNotFound
		}
		return id, nil, nil

	case lookup.ToolUserID != "":
		var id uuid.UUID
		err := s.db.Pool.QueryRow(ctx, `
			SELECT user_id FROM user_links WHERE tool_id = $1 AND tool_user_id = $2
		`, toolID, lookup.ToolUserID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, nil, ErrUserNotFound
			}
			return uuid.Nil, nil, err
		}
		toolUserID := lookup.ToolUserID
		return id, &toolUserID, nil

	case lookup.EmailSHA256 != "":
		var id uuid.UUID
		err := s.db.Pool.QueryRow(ctx, `
			SELECT id FROM user_profiles
			WHERE encode(digest(lower(trim(email)), 'sha256'), 'hex') = lower($1)
		`, lookup.EmailSHA256).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, nil, ErrUserNotFound
			}
			return uuid.Nil, nil, err
		}
		return id, nil, nil
	}

	return uuid.Nil, nil, errors.New("no lookup field provided")
}
