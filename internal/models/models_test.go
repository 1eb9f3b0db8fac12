package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTool() Tool {
	return Tool{
		Name:        "Prompt Studio",
		RedirectURL: "https://promptstudio.example.com/app",
	}
}

func TestToolValidate(t *testing.T) {
	tool := validTool()
	require.NoError(t, tool.Validate())
}

func TestToolValidateRejectsMissingName(t *testing.T) {
	tool := validTool()
	tool.Name = ""
	assert.EqualError(t, tool.Validate(), "name is required")
}

func TestToolValidateRedirectURL(t *testing.T) {
	cases := map[string]string{
		"":                    "redirect_url is required",
		"not-a-url":           "redirect_url must be an absolute http(s) URL",
		"ftp://example.com":   "redirect_url must be an absolute http(s) URL",
		"/relative/path":      "redirect_url must be an absolute http(s) URL",
		"javascript:alert(1)": "redirect_url must be an absolute http(s) URL",
	}
	for url, wantErr := range cases {
		tool := validTool()
		tool.RedirectURL = url
		assert.EqualError(t, tool.Validate(), wantErr, "url %q", url)
	}

	for _, url := range []string{"http://localhost:3000/app", "https://example.com"} {
		tool := validTool()
		tool.RedirectURL = url
		assert.NoError(t, tool.Validate(), "url %q", url)
	}
}

func TestToolValidateDiscountRange(t *testing.T) {
	tool := validTool()
	tool.Metadata.DiscountPercent = 101
	assert.Error(t, tool.Validate())

	tool.Metadata.DiscountPercent = -1
	assert.Error(t, tool.Validate())

	tool.Metadata.DiscountPercent = 50
	assert.NoError(t, tool.Validate())
}

func TestPricingModelRequiresOneShape(t *testing.T) {
	var pm PricingModel
	assert.EqualError(t, pm.Validate(), "at least one pricing option must be enabled")
}

func TestPricingModelOneTimeFixed(t *testing.T) {
	pm := PricingModel{OneTime: OneTimePricing{Enabled: true, Price: 500}}
	require.NoError(t, pm.Validate())

	pm.OneTime.Price = 0
	assert.Error(t, pm.Validate())
}

func TestPricingModelOneTimeRange(t *testing.T) {
	pm := PricingModel{OneTime: OneTimePricing{Enabled: true, MinPrice: 100, MaxPrice: 1000}}
	require.NoError(t, pm.Validate())

	// Range needs both ends
	pm = PricingModel{OneTime: OneTimePricing{Enabled: true, MinPrice: 100}}
	assert.Error(t, pm.Validate())

	// Inverted range
	pm = PricingModel{OneTime: OneTimePricing{Enabled: true, MinPrice: 1000, MaxPrice: 100}}
	assert.Error(t, pm.Validate())
}

func TestPricingModelSubscription(t *testing.T) {
	pm := PricingModel{Subscription: SubscriptionPricing{Enabled: true, Price: 1000, Interval: "month"}}
	require.NoError(t, pm.Validate())

	pm.Subscription.Interval = "year"
	require.NoError(t, pm.Validate())

	pm.Subscription.Interval = "week"
	assert.Error(t, pm.Validate())

	pm.Subscription.Interval = "month"
	pm.Subscription.TrialDays = -1
	assert.Error(t, pm.Validate())

	pm.Subscription.TrialDays = 14
	assert.NoError(t, pm.Validate())
}

func TestPricingModelUsage(t *testing.T) {
	pm := PricingModel{Usage: UsagePricing{Enabled: true, PricePerUnit: 2, UnitName: "image"}}
	require.NoError(t, pm.Validate())

	pm.Usage.UnitName = ""
	assert.Error(t, pm.Validate())

	pm.Usage.UnitName = "image"
	pm.Usage.PricePerUnit = 0
	assert.Error(t, pm.Validate())
}

func TestPricingModelCombinedShapes(t *testing.T) {
	pm := PricingModel{
		OneTime:      OneTimePricing{Enabled: true, Price: 500},
		Subscription: SubscriptionPricing{Enabled: true, Price: 1000, Interval: "month"},
		Usage:        UsagePricing{Enabled: true, PricePerUnit: 2, UnitName: "call"},
	}
	assert.NoError(t, pm.Validate())
}
