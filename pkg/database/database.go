package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// The consume endpoint writes a ledger row on every tool request
	config.MaxConns = 50
	config.MinConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates all tables and indexes
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,

		// Users of the marketplace. Vendors are users with is_vendor = true;
		// credit balances live here for both sides of the ledger.
		`CREATE TABLE IF NOT EXISTS user_profiles (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			password_hash TEXT,
			is_vendor BOOLEAN DEFAULT FALSE,
			credits_balance BIGINT NOT NULL DEFAULT 0,
			discord_id TEXT UNIQUE,
			discord_username TEXT,
			discord_avatar TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			last_login_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		// Vendor-owned tool listings. Soft-deleted by flipping is_active.
		`CREATE TABLE IF NOT EXISTS tools (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			vendor_id UUID NOT NULL REFERENCES user_profiles(id),
			name TEXT NOT NULL,
			description TEXT,
			redirect_url TEXT NOT NULL,
			is_active BOOLEAN DEFAULT TRUE,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		// Pricing products attached to a tool. pricing_model holds up to three
		// shapes (one_time, subscription, usage); at least one must be enabled,
		// validated in the models package before any write.
		`CREATE TABLE IF NOT EXISTS tool_products (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tool_id UUID NOT NULL REFERENCES tools(id),
			name TEXT NOT NULL,
			description TEXT,
			is_active BOOLEAN DEFAULT TRUE,
			pricing_model JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		// One key per tool (UNIQUE tool_id). Only the SHA-256 hash and display
		// prefix are stored; regeneration overwrites in place. Webhook secret
		// is AES-GCM encrypted with the server encryption key.
		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tool_id UUID NOT NULL UNIQUE REFERENCES tools(id),
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			webhook_url TEXT,
			encrypted_webhook_secret TEXT,
			redirect_uri TEXT,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			rotated_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ,
			usage_count BIGINT DEFAULT 0
		);`,

		// Append-only credit ledger. type 'subtract' = user spends,
		// 'add' = vendor earns. idempotency_key dedupes consume retries.
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tool_id UUID NOT NULL REFERENCES tools(id),
			user_id UUID NOT NULL REFERENCES user_profiles(id),
			type TEXT NOT NULL CHECK (type IN ('add', 'subtract')),
			amount BIGINT NOT NULL CHECK (amount > 0),
			reason TEXT,
			idempotency_key TEXT,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_tx_idempotency
			ON credit_transactions (tool_id, idempotency_key)
			WHERE idempotency_key IS NOT NULL;`,

		// Product purchases
		`CREATE TABLE IF NOT EXISTS checkouts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			product_id UUID NOT NULL REFERENCES tool_products(id),
			user_id UUID NOT NULL REFERENCES user_profiles(id),
			status TEXT NOT NULL DEFAULT 'pending',
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		);`,

		// Active subscriptions to subscription-shaped products
		`CREATE TABLE IF NOT EXISTS tool_subscriptions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tool_id UUID NOT NULL REFERENCES tools(id),
			product_id UUID NOT NULL REFERENCES tool_products(id),
			user_id UUID NOT NULL REFERENCES user_profiles(id),
			status TEXT NOT NULL DEFAULT 'active',
			current_period_end TIMESTAMPTZ,
			trial_ends_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			canceled_at TIMESTAMPTZ
		);`,

		// Short-lived account-link codes exchanged by tools for a user id
		`CREATE TABLE IF NOT EXISTS link_codes (
			code TEXT PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES user_profiles(id),
			expires_at TIMESTAMPTZ NOT NULL,
			consumed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		// tool_user_id <-> 1sub user bindings established via link codes
		`CREATE TABLE IF NOT EXISTS user_links (
			tool_id UUID NOT NULL REFERENCES tools(id),
			tool_user_id TEXT NOT NULL,
			user_id UUID NOT NULL REFERENCES user_profiles(id),
			linked_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (tool_id, tool_user_id)
		);`,

		// Outbound webhook delivery queue, drained by the dispatcher worker
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tool_id UUID NOT NULL REFERENCES tools(id),
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			delivered_at TIMESTAMPTZ
		);`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_tools_vendor ON tools(vendor_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tools_active ON tools(is_active) WHERE is_active = true;`,
		`CREATE INDEX IF NOT EXISTS idx_products_tool ON tool_products(tool_id);`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_tool_time ON credit_transactions (tool_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_user_time ON credit_transactions (user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_tool_user ON tool_subscriptions (tool_id, user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON tool_subscriptions (user_id) WHERE status = 'active';`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_pending ON webhook_events (next_attempt_at) WHERE status IN ('pending', 'delivering');`,
		`CREATE INDEX IF NOT EXISTS idx_user_links_user ON user_links(user_id);`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}
