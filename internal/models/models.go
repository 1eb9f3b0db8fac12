package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// UserProfile represents a marketplace account. Vendors publish tools;
// regular users spend credits on them.
type UserProfile struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	DisplayName     string     `json:"display_name"`
	PasswordHash    string     `json:"-"`
	IsVendor        bool       `json:"is_vendor"`
	CreditsBalance  int64      `json:"credits_balance"`
	DiscordID       *string    `json:"discord_id,omitempty"`
	DiscordUsername *string    `json:"discord_username,omitempty"`
	DiscordAvatar   *string    `json:"discord_avatar,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}

// ToolMetadata is the free-form listing blob stored on tools.metadata.
// Fields mirror what the dashboard publish form collects.
type ToolMetadata struct {
	Emoji              string   `json:"emoji,omitempty"`
	LogoURL            string   `json:"logo_url,omitempty"`
	HeroImageURL       string   `json:"hero_image_url,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Category           string   `json:"category,omitempty"`
	DiscountPercent    int      `json:"discount_percent,omitempty"`
	LongDescription    string   `json:"long_description,omitempty"`
	CustomPricingEmail string   `json:"custom_pricing_email,omitempty"`
}

// Tool represents a vendor's published integration
type Tool struct {
	ID          uuid.UUID    `json:"id"`
	VendorID    uuid.UUID    `json:"vendor_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	RedirectURL string       `json:"redirect_url"`
	IsActive    bool         `json:"is_active"`
	Metadata    ToolMetadata `json:"metadata"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks the fields required to publish a tool
func (t *Tool) Validate() error {
	if t.Name == "" {
		return errors.New("name is required")
	}
	if t.RedirectURL == "" {
		return errors.New("redirect_url is required")
	}
	u, err := url.Parse(t.RedirectURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("redirect_url must be an absolute http(s) URL")
	}
	if t.Metadata.DiscountPercent < 0 || t.Metadata.DiscountPercent > 100 {
		return errors.New("discount_percent must be between 0 and 100")
	}
	return nil
}

// OneTimePricing is a one-off purchase, either fixed or a min/max range
type OneTimePricing struct {
	Enabled  bool  `json:"enabled"`
	Price    int64 `json:"price,omitempty"`
	MinPrice int64 `json:"min_price,omitempty"`
	MaxPrice int64 `json:"max_price,omitempty"`
}

// SubscriptionPricing is a recurring price with an optional trial
type SubscriptionPricing struct {
	Enabled   bool   `json:"enabled"`
	Price     int64  `json:"price,omitempty"`
	Interval  string `json:"interval,omitempty"` // "month" or "year"
	TrialDays int    `json:"trial_days,omitempty"`
}

// UsagePricing is metered billing per unit
type UsagePricing struct {
	Enabled      bool   `json:"enabled"`
	PricePerUnit int64  `json:"price_per_unit,omitempty"`
	UnitName     string `json:"unit_name,omitempty"`
	MinimumUnits int64  `json:"minimum_units,omitempty"`
}

// PricingModel combines the three shapes a product can carry. The shapes are
// not mutually exclusive; at least one must be enabled.
type PricingModel struct {
	OneTime      OneTimePricing      `json:"one_time"`
	Subscription SubscriptionPricing `json:"subscription"`
	Usage        UsagePricing        `json:"usage"`
}

// Validate enforces the product pricing invariant server-side: at least one
// shape enabled, and every enabled shape internally consistent.
func (p *PricingModel) Validate() error {
	if !p.OneTime.Enabled && !p.Subscription.Enabled && !p.Usage.Enabled {
		return errors.New("at least one pricing option must be enabled")
	}

	if p.OneTime.Enabled {
		ranged := p.OneTime.MinPrice > 0 || p.OneTime.MaxPrice > 0
		if ranged {
			if p.OneTime.MinPrice <= 0 || p.OneTime.MaxPrice <= 0 {
				return errors.New("one-time range pricing requires both min_price and max_price")
			}
			if p.OneTime.MinPrice > p.OneTime.MaxPrice {
				return errors.New("one-time min_price cannot exceed max_price")
			}
		} else if p.OneTime.Price <= 0 {
			return errors.New("one-time pricing requires a positive price")
		}
	}

	if p.Subscription.Enabled {
		if p.Subscription.Price <= 0 {
			return errors.New("subscription pricing requires a positive price")
		}
		if p.Subscription.Interval != "month" && p.Subscription.Interval != "year" {
			return fmt.Errorf("invalid subscription interval: %q", p.Subscription.Interval)
		}
		if p.Subscription.TrialDays < 0 {
			return errors.New("trial_days cannot be negative")
		}
	}

	if p.Usage.Enabled {
		if p.Usage.PricePerUnit <= 0 {
			return errors.New("usage pricing requires a positive price_per_unit")
		}
		if p.Usage.UnitName == "" {
			return errors.New("usage pricing requires a unit_name")
		}
		if p.Usage.MinimumUnits < 0 {
			return errors.New("minimum_units cannot be negative")
		}
	}

	return nil
}

// Product represents a purchasable pricing configuration attached to a tool
type Product struct {
	ID           uuid.UUID    `json:"id"`
	ToolID       uuid.UUID    `json:"tool_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	IsActive     bool         `json:"is_active"`
	PricingModel PricingModel `json:"pricing_model"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Transaction types
const (
	TxTypeAdd      = "add"      // vendor earns
	TxTypeSubtract = "subtract" // user spends
)

// CreditTransaction is a row in the append-only credit ledger
type CreditTransaction struct {
	ID             uuid.UUID       `json:"id"`
	ToolID         uuid.UUID       `json:"tool_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Type           string          `json:"type"`
	Amount         int64           `json:"amount"`
	Reason         string          `json:"reason,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ToolSubscription represents a user's subscription to a tool product
type ToolSubscription struct {
	ID               uuid.UUID  `json:"id"`
	ToolID           uuid.UUID  `json:"tool_id"`
	ProductID        uuid.UUID  `json:"product_id"`
	UserID           uuid.UUID  `json:"user_id"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	TrialEndsAt      *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
}

// WebhookEvent is a queued outbound delivery
type WebhookEvent struct {
	ID            uuid.UUID       `json:"id"`
	ToolID        uuid.UUID       `json:"tool_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
}

// UserLink binds a tool's internal user id to a 1sub user
type UserLink struct {
	ToolID     uuid.UUID `json:"tool_id"`
	ToolUserID string    `json:"tool_user_id"`
	UserID     uuid.UUID `json:"user_id"`
	LinkedAt   time.Time `json:"linked_at"`
}
