package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/billing"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/store"
	mongostore "github.com/xraph/billing/store/mongo"
)

// Option configures the Billing Forge extension.
type Option func(*Extension)

// WithStore sets the store for the billing engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB backs the engine with a MongoDB store on db.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.store = mongostore.New(db)
	}
}

// WithEngineOption passes a billing.Option through to the underlying engine.
func WithEngineOption(opt billing.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a billing plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, billing.WithPlugin(p))
	}
}

// WithProvider registers a payment provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, billing.WithProvider(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for billing routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMinPaymentAmount sets the smallest accepted payment amount.
func WithMinPaymentAmount(amount int64) Option {
	return func(e *Extension) { e.config.MinPaymentAmount = amount }
}

// WithProviderTimeout bounds every gateway call.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.ProviderTimeout = d }
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) Option {
	return func(e *Extension) { e.config.DefaultProvider = name }
}
