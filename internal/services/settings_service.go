package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Setting represents a system configuration entry
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	IsSecret    bool      `json:"is_secret"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Keys vendors are allowed to read and write through the settings API.
var vendorSettingKeys = map[string]bool{
	"discord_webhook_url": true,
	"low_balance_alerts":  true,
	"sale_notifications":  true,
	"notify_threshold":    true,
}

// SettingsService handles database-backed configuration, both system-wide
// and per vendor
type SettingsService struct {
	db    *pgxpool.Pool
	cache map[string]string
	mu    sync.RWMutex
}

// NewSettingsService creates a new service and initializes the schema
func NewSettingsService(db *pgxpool.Pool) *SettingsService {
	s := &SettingsService{
		db:    db,
		cache: make(map[string]string),
	}
	s.initSchema()
	s.loadCache()
	return s
}

// initSchema creates the settings tables if they don't exist
func (s *SettingsService) initSchema() {
	ctx := context.Background()
	query := `
	CREATE TABLE IF NOT EXISTS system_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT,
		is_secret BOOLEAN DEFAULT FALSE,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS vendor_settings (
		vendor_id UUID REFERENCES user_profiles(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (vendor_id, key)
	);
	`
	_, err := s.db.Exec(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create settings tables")
	}
}

// AllowedVendorKey reports whether vendors may manage the given key
func AllowedVendorKey(key string) bool {
	return vendorSettingKeys[key]
}

// GetForVendor returns a vendor-scoped setting, or defaultValue when unset
func (s *SettingsService) GetForVendor(ctx context.Context, vendorID uuid.UUID, key string, defaultValue string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, "SELECT value FROM vendor_settings WHERE vendor_id = $1 AND key = $2", vendorID, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return defaultValue, nil
		}
		return "", err
	}
	return value, nil
}

// SetForVendor updates a vendor-scoped setting
func (s *SettingsService) SetForVendor(ctx context.Context, vendorID uuid.UUID, key, value string) error {
	query := `
		INSERT INTO vendor_settings (vendor_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (vendor_id, key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = NOW()
	`
	_, err := s.db.Exec(ctx, query, vendorID, key, value)
	return err
}

// GetAllForVendor returns every vendor-scoped setting for one vendor
func (s *SettingsService) GetAllForVendor(ctx context.Context, vendorID uuid.UUID) (map[string]string, error) {
	rows, err := s.db.Query(ctx, "SELECT key, value FROM vendor_settings WHERE vendor_id = $1", vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// loadCache loads all system settings into memory
func (s *SettingsService) loadCache() {
	ctx := context.Background()
	rows, err := s.db.Query(ctx, "SELECT key, value FROM system_settings")
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings cache")
		return
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		s.cache[key] = value
	}
}

// Get returns a system setting value, checking cache first
func (s *SettingsService) Get(ctx context.Context, key string, defaultValue string) string {
	s.mu.RLock()
	val, ok := s.cache[key]
	s.mu.RUnlock()

	if ok {
		return val
	}
	return defaultValue
}

// Set updates a system setting in DB and cache
func (s *SettingsService) Set(ctx context.Context, key, value, description string, isSecret bool) error {
	query := `
		INSERT INTO system_settings (key, value, description, is_secret, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    description = EXCLUDED.description,
		    is_secret = EXCLUDED.is_secret,
		    updated_at = NOW()
	`
	_, err := s.db.Exec(ctx, query, key, value, description, isSecret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()

	return nil
}

// GetAll returns all system settings (masking secrets)
func (s *SettingsService) GetAll(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.Query(ctx, "SELECT key, value, description, is_secret, updated_at FROM system_settings ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Description, &st.IsSecret, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if st.IsSecret {
			st.Value = "********" // Mask secret values
		}
		settings = append(settings, st)
	}
	return settings, nil
}
