package billing

import "time"

// Config holds the engine settings.
type Config struct {
	// MinPaymentAmount is the smallest one-off payment and mandate amount,
	// in the wallet currency, VAT excluded.
	MinPaymentAmount int64 `json:"min_payment_amount" mapstructure:"min_payment_amount" yaml:"min_payment_amount"`

	// ProviderTimeout bounds every gateway call.
	ProviderTimeout time.Duration `json:"provider_timeout" mapstructure:"provider_timeout" yaml:"provider_timeout"`

	// LockTTL bounds how long a sweep or top-up may hold a wallet lock.
	LockTTL time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl"`

	// DefaultProvider is used when a request names no provider.
	DefaultProvider string `json:"default_provider" mapstructure:"default_provider" yaml:"default_provider"`

	// DegradedReminderInterval spaces the reminders sent to degraded
	// wallets.
	DegradedReminderInterval time.Duration `json:"degraded_reminder_interval" mapstructure:"degraded_reminder_interval" yaml:"degraded_reminder_interval"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		MinPaymentAmount:         1000,
		ProviderTimeout:          5 * time.Second,
		LockTTL:                  30 * time.Second,
		DegradedReminderInterval: 14 * 24 * time.Hour,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinPaymentAmount <= 0 {
		c.MinPaymentAmount = d.MinPaymentAmount
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = d.ProviderTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.DegradedReminderInterval <= 0 {
		c.DegradedReminderInterval = d.DegradedReminderInterval
	}
	return c
}
