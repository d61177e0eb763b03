package extension

import (
	"time"

	"github.com/xraph/billing"
)

// Config holds the Billing extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.billing" or "billing" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for billing routes (default: "/billing").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// MinPaymentAmount is the smallest one-off payment and mandate amount
	// (default: 1000).
	MinPaymentAmount int64 `json:"min_payment_amount" mapstructure:"min_payment_amount" yaml:"min_payment_amount"`

	// ProviderTimeout bounds every gateway call (default: 5s).
	ProviderTimeout time.Duration `json:"provider_timeout" mapstructure:"provider_timeout" yaml:"provider_timeout"`

	// LockTTL bounds how long a sweep or top-up holds a wallet lock
	// (default: 30s).
	LockTTL time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl"`

	// DefaultProvider is used when a payment request names no provider.
	DefaultProvider string `json:"default_provider" mapstructure:"default_provider" yaml:"default_provider"`

	// DegradedReminderInterval spaces the reminders sent to degraded
	// wallets (default: 14 days).
	DegradedReminderInterval time.Duration `json:"degraded_reminder_interval" mapstructure:"degraded_reminder_interval" yaml:"degraded_reminder_interval"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	eng := billing.DefaultConfig()
	return Config{
		BasePath:                 "/billing",
		MinPaymentAmount:         eng.MinPaymentAmount,
		ProviderTimeout:          eng.ProviderTimeout,
		LockTTL:                  eng.LockTTL,
		DegradedReminderInterval: eng.DegradedReminderInterval,
	}
}

// Engine returns the engine settings carried by c.
func (c Config) Engine() billing.Config {
	return billing.Config{
		MinPaymentAmount:         c.MinPaymentAmount,
		ProviderTimeout:          c.ProviderTimeout,
		LockTTL:                  c.LockTTL,
		DefaultProvider:          c.DefaultProvider,
		DegradedReminderInterval: c.DegradedReminderInterval,
	}
}
