package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/billing/entitlement"
	"github.com/xraph/billing/fx"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/lock"
	"github.com/xraph/billing/notify"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/provider"
	"github.com/xraph/billing/store"
)

// Scheduler defers work the engine wants done outside the current
// operation, typically by enqueueing a background job.
type Scheduler interface {
	ScheduleTopUp(ctx context.Context, walletID id.WalletID) error
}

// Engine is the billing engine: wallet ledger, entitlement accounting,
// payments, auto-payment mandates and webhook reconciliation.
type Engine struct {
	store     store.Store
	plugins   *plugin.Registry
	providers *provider.Registry
	handlers  *entitlement.Registry
	notifier  notify.Notifier
	locker    lock.Locker
	rates     fx.Source
	scheduler Scheduler
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// New creates a new Engine.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		plugins:   plugin.NewRegistry(),
		providers: provider.NewRegistry(),
		handlers:  entitlement.DefaultRegistry(),
		locker:    lock.NewLocal(),
		rates:     fx.NewTable(),
		logger:    slog.Default(),
		config:    DefaultConfig(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = notify.NewLogNotifier(e.logger)
	}
	e.config = e.config.withDefaults()

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProvider registers a payment provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) {
		e.providers.Register(p)
	}
}

// WithHandlers replaces the entitled object registry.
func WithHandlers(r *entitlement.Registry) Option {
	return func(e *Engine) { e.handlers = r }
}

// WithNotifier sets the notification sink. Without one, notifications are
// logged through the engine logger.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLocker sets the locker used by sweeps, top-ups and exclusive
// entitlements.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithExchangeRates sets the exchange-rate source for payments charged in
// another currency than the wallet's.
func WithExchangeRates(src fx.Source) Option {
	return func(e *Engine) { e.rates = src }
}

// WithScheduler defers top-ups to background jobs. Without a scheduler
// they run inline after the triggering operation commits.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithConfig sets the engine configuration. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Providers returns the provider registry.
func (e *Engine) Providers() *provider.Registry { return e.providers }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("billing engine started",
		"providers", e.providers.Names(),
		"default_provider", e.config.DefaultProvider,
		"min_payment_amount", e.config.MinPaymentAmount,
		"provider_timeout", e.config.ProviderTimeout,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// effects collects work to run once a unit of work has committed.
type effects []func(ctx context.Context)

func (f *effects) add(fn func(ctx context.Context)) {
	*f = append(*f, fn)
}

func (f effects) run(ctx context.Context) {
	for _, fn := range f {
		fn(ctx)
	}
}

// notify delivers n. Delivery failures never fail the caller.
func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification failed",
			"kind", n.Kind,
			"wallet_id", n.WalletID.String(),
			"error", err,
		)
	}
}

// provider looks up a provider, falling back to the default one.
func (e *Engine) provider(name string) (provider.Provider, error) {
	if name == "" {
		name = e.config.DefaultProvider
	}
	if name == "" {
		return nil, ErrNoDefaultProvider
	}
	return e.providers.Get(name)
}

// gatewayCtx bounds a gateway call.
func (e *Engine) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.ProviderTimeout)
}

// gatewayError logs and publishes a failed gateway call.
func (e *Engine) gatewayError(ctx context.Context, providerName, op string, err error) error {
	e.logger.Warn("provider call failed",
		"provider", providerName,
		"op", op,
		"rate_limited", provider.IsRateLimited(err),
		"error", err,
	)
	e.plugins.EmitProviderError(ctx, providerName, op, err)
	return err
}

// acquire takes the named per-wallet lock, bounded by LockTTL.
func (e *Engine) acquire(ctx context.Context, scope string, walletID id.WalletID) (release func(), err error) {
	return e.lockKey(ctx, scope+":"+walletID.String())
}

func (e *Engine) lockKey(ctx context.Context, key string) (release func(), err error) {
	actx, cancel := context.WithTimeout(ctx, e.config.LockTTL)
	defer cancel()

	lease, err := e.locker.Acquire(actx, key)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("lock release failed", "key", key, "error", err)
		}
	}, nil
}
