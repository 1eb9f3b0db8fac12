package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/1sub-io/vendor-api/internal/models"
	"github.com/1sub-io/vendor-api/pkg/database"
)

// InsufficientCreditsError carries the balance details the consume endpoint
// reports back to tools.
type InsufficientCreditsError struct {
	CurrentBalance int64
	Required       int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.CurrentBalance, e.Required)
}

// ErrUserNotFound is returned when the target user does not exist
var ErrUserNotFound = errors.New("user not found")

// ConsumeResult is the outcome of a (possibly deduplicated) consume call
type ConsumeResult struct {
	NewBalance    int64
	TransactionID uuid.UUID
	IsDuplicate   bool
}

// ledgerPool is the pool surface the ledger uses. *pgxpool.Pool satisfies
// it; tests substitute a mock.
type ledgerPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreditService owns the credit ledger. Consumes run in a single database
// transaction: user balance is locked, checked, decremented, and both ledger
// rows (user spend + vendor earn) are written together.
type CreditService struct {
	pool ledgerPool
}

func NewCreditService(db *database.DB) *CreditService {
	return &CreditService{pool: db.Pool}
}

// txMetadata is stored on the subtract row so duplicate retries can replay
// the original response.
type txMetadata struct {
	NewBalance int64 `json:"new_balance"`
}

// Consume debits amount from the user and credits the tool's vendor.
// Retries carrying the same idempotency key return the original result
// with IsDuplicate set.
func (s *CreditService) Consume(ctx context.Context, toolID, userID uuid.UUID, amount int64, reason, idempotencyKey string) (*ConsumeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Replay check before touching balances. An empty key means the caller
	// opted out of deduplication and is stored as NULL.
	if idempotencyKey != "" {
		if res, ok, err := s.findDuplicate(ctx, tx, toolID, idempotencyKey); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT credits_balance FROM user_profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user balance: %w", err)
	}

	if balance < amount {
		return nil, &InsufficientCreditsError{CurrentBalance: balance, Required: amount}
	}

	newBalance := balance - amount
	if _, err := tx.Exec(ctx,
		`UPDATE user_profiles SET credits_balance = $2 WHERE id = $1`, userID, newBalance); err != nil {
		return nil, fmt.Errorf("failed to debit user: %w", err)
	}

	var keyArg *string
	if idempotencyKey != "" {
		keyArg = &idempotencyKey
	}

	meta, _ := json.Marshal(txMetadata{NewBalance: newBalance})
	var txID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (tool_id, user_id, type, amount, reason, idempotency_key, metadata)
		VALUES ($1, $2, 'subtract', $3, $4, $5, $6)
		ON CONFLICT (tool_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING id
	`, toolID, userID, amount, reason, keyArg, meta).Scan(&txID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) && idempotencyKey != "" {
			// Lost a race against a concurrent retry; the winner's row is the answer
			if res, ok, derr := s.findDuplicate(ctx, tx, toolID, idempotencyKey); derr == nil && ok {
				return res, nil
			}
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	// Vendor side of the ledger: 'add' = vendor earns, buyer recorded in metadata
	var vendorID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT vendor_id FROM tools WHERE id = $1`, toolID).Scan(&vendorID); err != nil {
		return nil, fmt.Errorf("failed to resolve vendor: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE user_profiles SET credits_balance = credits_balance + $2 WHERE id = $1`, vendorID, amount); err != nil {
		return nil, fmt.Errorf("failed to credit vendor: %w", err)
	}

	earnMeta, _ := json.Marshal(map[string]string{"buyer_id": userID.String()})
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (tool_id, user_id, type, amount, reason, metadata)
		VALUES ($1, $2, 'add', $3, $4, $5)
	`, toolID, vendorID, amount, reason, earnMeta); err != nil {
		return nil, fmt.Errorf("failed to record vendor earning: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit consume: %w", err)
	}

	log.Info().
		Str("tool_id", toolID.String()).
		Str("user_id", userID.String()).
		Int64("amount", amount).
		Int64("new_balance", newBalance).
		Msg("Credits consumed")

	return &ConsumeResult{NewBalance: newBalance, TransactionID: txID}, nil
}

func (s *CreditService) findDuplicate(ctx context.Context, tx pgx.Tx, toolID uuid.UUID, idempotencyKey string) (*ConsumeResult, bool, error) {
	var txID uuid.UUID
	var metaRaw []byte
	err := tx.QueryRow(ctx, `
		SELECT id, metadata FROM credit_transactions
		WHERE tool_id = $1 AND idempotency_key = $2 AND type = 'subtract'
	`, toolID, idempotencyKey).Scan(&txID, &metaRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to check idempotency: %w", err)
	}

	var meta txMetadata
	_ = json.Unmarshal(metaRaw, &meta)

	return &ConsumeResult{
		NewBalance:    meta.NewBalance,
		TransactionID: txID,
		IsDuplicate:   true,
	}, true, nil
}

// TxFilter narrows ledger listings
type TxFilter struct {
	Type   string // "", "add" or "subtract"
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// ListByTool returns a tool's ledger rows, newest first
func (s *CreditService) ListByTool(ctx context.Context, toolID uuid.UUID, f TxFilter) ([]models.CreditTransaction, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	query := `
		SELECT id, tool_id, user_id, type, amount, COALESCE(reason, ''), idempotency_key, metadata, created_at
		FROM credit_transactions
		WHERE tool_id = $1
	`
	args := []any{toolID}

	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]models.CreditTransaction, 0)
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.ToolID, &t.UserID, &t.Type, &t.Amount,
			&t.Reason, &t.IdempotencyKey, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ToolStats aggregates a tool's ledger
type ToolStats struct {
	ToolID       uuid.UUID  `json:"tool_id"`
	TotalEarned  int64      `json:"total_earned"`
	TotalSpent   int64      `json:"total_spent"`
	TxCount      int64      `json:"transaction_count"`
	UniqueUsers  int64      `json:"unique_users"`
	ActiveSubs   int64      `json:"active_subscriptions"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Stats computes per-tool aggregates in one pass plus a subscription count
func (s *CreditService) Stats(ctx context.Context, toolID uuid.UUID) (*ToolStats, error) {
	st := &ToolStats{ToolID: toolID}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'add'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'subtract'), 0),
			COUNT(*),
			COUNT(DISTINCT user_id) FILTER (WHERE type = 'subtract'),
			MAX(created_at)
		FROM credit_transactions
		WHERE tool_id = $1
	`, toolID).Scan(&st.TotalEarned, &st.TotalSpent, &st.TxCount, &st.UniqueUsers, &st.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tool_subscriptions WHERE tool_id = $1 AND status = 'active'
	`, toolID).Scan(&st.ActiveSubs)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	return st, nil
}

// UserStats is a per-user rollup of spend on a tool
type UserStats struct {
	UserID      uuid.UUID  `json:"user_id"`
	DisplayName string     `json:"display_name"`
	TotalSpent  int64      `json:"total_spent"`
	TxCount     int64      `json:"transaction_count"`
	LastSpentAt *time.Time `json:"last_spent_at,omitempty"`
}

// TopUsers returns the heaviest spenders on a tool
func (s *CreditService) TopUsers(ctx context.Context, toolID uuid.UUID, limit int) ([]UserStats, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.user_id, u.display_name, SUM(t.amount), COUNT(*), MAX(t.created_at)
		FROM credit_transactions t
		JOIN user_profiles u ON u.id = t.user_id
		WHERE t.tool_id = $1 AND t.type = 'subtract'
		GROUP BY t.user_id, u.display_name
		ORDER BY SUM(t.amount) DESC
		LIMIT $2
	`, toolID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate users: %w", err)
	}
	defer rows.Close()

	stats := make([]UserStats, 0)
	for rows.Next() {
		var u UserStats
		if err := rows.Scan(&u.UserID, &u.DisplayName, &u.TotalSpent, &u.TxCount, &u.LastSpentAt); err != nil {
			return nil, err
		}
		stats = append(stats, u)
	}
	return stats, rows.Err()
}

// DailyRevenue is one day of vendor earnings
type DailyRevenue struct {
	Day    time.Time `json:"day"`
	Earned int64     `json:"earned"`
}

// RevenueSeries returns daily earnings for the last days days, oldest first.
// Gaps (days with no sales) are filled with zeroes so charts stay continuous.
func (s *CreditService) RevenueSeries(ctx context.Context, toolID uuid.UUID, days int) ([]DailyRevenue, error) {
	if days <= 0 || days > 365 {
		days = 30
	}

	rows, err := s.pool.Query(ctx, `
		SELECT d::date, COALESCE(SUM(t.amount), 0)
		FROM generate_series(
			(NOW() - ($2 - 1) * INTERVAL '1 day')::date, NOW()::date, INTERVAL '1 day'
		) d
		LEFT JOIN credit_transactions t
			ON t.tool_id = $1 AND t.type = 'add' AND t.created_at::date = d::date
		GROUP BY d
		ORDER BY d ASC
	`, toolID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to build revenue series: %w", err)
	}
	defer rows.Close()

	series := make([]DailyRevenue, 0, days)
	for rows.Next() {
		var d DailyRevenue
		if err := rows.Scan(&d.Day, &d.Earned); err != nil {
			return nil, err
		}
		series = append(series, d)
	}
	return series, rows.Err()
}
