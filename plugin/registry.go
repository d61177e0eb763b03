package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/wallet"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                 []OnInit
	onShutdown             []OnShutdown
	onWalletCreated        []OnWalletCreated
	onWalletDeleted        []OnWalletDeleted
	onTransactionRecorded  []OnTransactionRecorded
	onWalletRestricted     []OnWalletRestricted
	onWalletUnrestricted   []OnWalletUnrestricted
	onBalanceMismatch      []OnBalanceMismatch
	onEntitlementsCharged  []OnEntitlementsCharged
	onPaymentCreated       []OnPaymentCreated
	onPaymentStatusChanged []OnPaymentStatusChanged
	onPaymentReversed      []OnPaymentReversed
	onTopUp                []OnTopUp
	onMandateDisabled      []OnMandateDisabled
	onWebhookProcessed     []OnWebhookProcessed
	onProviderError        []OnProviderError
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnWalletCreated); ok {
		r.onWalletCreated = append(r.onWalletCreated, v)
	}
	if v, ok := p.(OnWalletDeleted); ok {
		r.onWalletDeleted = append(r.onWalletDeleted, v)
	}
	if v, ok := p.(OnTransactionRecorded); ok {
		r.onTransactionRecorded = append(r.onTransactionRecorded, v)
	}
	if v, ok := p.(OnWalletRestricted); ok {
		r.onWalletRestricted = append(r.onWalletRestricted, v)
	}
	if v, ok := p.(OnWalletUnrestricted); ok {
		r.onWalletUnrestricted = append(r.onWalletUnrestricted, v)
	}
	if v, ok := p.(OnBalanceMismatch); ok {
		r.onBalanceMismatch = append(r.onBalanceMismatch, v)
	}
	if v, ok := p.(OnEntitlementsCharged); ok {
		r.onEntitlementsCharged = append(r.onEntitlementsCharged, v)
	}
	if v, ok := p.(OnPaymentCreated); ok {
		r.onPaymentCreated = append(r.onPaymentCreated, v)
	}
	if v, ok := p.(OnPaymentStatusChanged); ok {
		r.onPaymentStatusChanged = append(r.onPaymentStatusChanged, v)
	}
	if v, ok := p.(OnPaymentReversed); ok {
		r.onPaymentReversed = append(r.onPaymentReversed, v)
	}
	if v, ok := p.(OnTopUp); ok {
		r.onTopUp = append(r.onTopUp, v)
	}
	if v, ok := p.(OnMandateDisabled); ok {
		r.onMandateDisabled = append(r.onMandateDisabled, v)
	}
	if v, ok := p.(OnWebhookProcessed); ok {
		r.onWebhookProcessed = append(r.onWebhookProcessed, v)
	}
	if v, ok := p.(OnProviderError); ok {
		r.onProviderError = append(r.onProviderError, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []reflect.Type{
	reflect.TypeOf((*OnInit)(nil)).Elem(),
	reflect.TypeOf((*OnShutdown)(nil)).Elem(),
	reflect.TypeOf((*OnWalletCreated)(nil)).Elem(),
	reflect.TypeOf((*OnWalletDeleted)(nil)).Elem(),
	reflect.TypeOf((*OnTransactionRecorded)(nil)).Elem(),
	reflect.TypeOf((*OnWalletRestricted)(nil)).Elem(),
	reflect.TypeOf((*OnWalletUnrestricted)(nil)).Elem(),
	reflect.TypeOf((*OnBalanceMismatch)(nil)).Elem(),
	reflect.TypeOf((*OnEntitlementsCharged)(nil)).Elem(),
	reflect.TypeOf((*OnPaymentCreated)(nil)).Elem(),
	reflect.TypeOf((*OnPaymentStatusChanged)(nil)).Elem(),
	reflect.TypeOf((*OnPaymentReversed)(nil)).Elem(),
	reflect.TypeOf((*OnTopUp)(nil)).Elem(),
	reflect.TypeOf((*OnMandateDisabled)(nil)).Elem(),
	reflect.TypeOf((*OnWebhookProcessed)(nil)).Elem(),
	reflect.TypeOf((*OnProviderError)(nil)).Elem(),
}

func implementedInterfaces(p Plugin) []string {
	t := reflect.TypeOf(p)
	var names []string
	for _, h := range hookTypes {
		if t.Implements(h) {
			names = append(names, h.Name())
		}
	}
	return names
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin of one hook. Failures are logged and
// never returned to the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks func(*Registry) []T, fn func(T) error) {
	r.mu.RLock()
	plugins := hooks(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit },
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown },
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitWalletCreated emits a wallet created event.
func (r *Registry) EmitWalletCreated(ctx context.Context, w *wallet.Wallet) {
	emit(ctx, r, "OnWalletCreated", func(r *Registry) []OnWalletCreated { return r.onWalletCreated },
		func(p OnWalletCreated) error { return p.OnWalletCreated(ctx, w) })
}

// EmitWalletDeleted emits a wallet deleted event.
func (r *Registry) EmitWalletDeleted(ctx context.Context, w *wallet.Wallet) {
	emit(ctx, r, "OnWalletDeleted", func(r *Registry) []OnWalletDeleted { return r.onWalletDeleted },
		func(p OnWalletDeleted) error { return p.OnWalletDeleted(ctx, w) })
}

// EmitTransactionRecorded emits a ledger transaction event.
func (r *Registry) EmitTransactionRecorded(ctx context.Context, w *wallet.Wallet, txn *transaction.Transaction) {
	emit(ctx, r, "OnTransactionRecorded", func(r *Registry) []OnTransactionRecorded { return r.onTransactionRecorded },
		func(p OnTransactionRecorded) error { return p.OnTransactionRecorded(ctx, w, txn) })
}

// EmitWalletRestricted emits a wallet restricted event.
func (r *Registry) EmitWalletRestricted(ctx context.Context, w *wallet.Wallet) {
	emit(ctx, r, "OnWalletRestricted", func(r *Registry) []OnWalletRestricted { return r.onWalletRestricted },
		func(p OnWalletRestricted) error { return p.OnWalletRestricted(ctx, w) })
}

// EmitWalletUnrestricted emits a restriction lifted event.
func (r *Registry) EmitWalletUnrestricted(ctx context.Context, w *wallet.Wallet) {
	emit(ctx, r, "OnWalletUnrestricted", func(r *Registry) []OnWalletUnrestricted { return r.onWalletUnrestricted },
		func(p OnWalletUnrestricted) error { return p.OnWalletUnrestricted(ctx, w) })
}

// EmitBalanceMismatch emits a balance mismatch event.
func (r *Registry) EmitBalanceMismatch(ctx context.Context, walletID id.WalletID, cached, sum int64) {
	emit(ctx, r, "OnBalanceMismatch", func(r *Registry) []OnBalanceMismatch { return r.onBalanceMismatch },
		func(p OnBalanceMismatch) error { return p.OnBalanceMismatch(ctx, walletID, cached, sum) })
}

// EmitEntitlementsCharged emits a sweep debit event.
func (r *Registry) EmitEntitlementsCharged(ctx context.Context, w *wallet.Wallet, total int64, charged int) {
	emit(ctx, r, "OnEntitlementsCharged", func(r *Registry) []OnEntitlementsCharged { return r.onEntitlementsCharged },
		func(p OnEntitlementsCharged) error { return p.OnEntitlementsCharged(ctx, w, total, charged) })
}

// EmitPaymentCreated emits a payment created event.
func (r *Registry) EmitPaymentCreated(ctx context.Context, pay *payment.Payment) {
	emit(ctx, r, "OnPaymentCreated", func(r *Registry) []OnPaymentCreated { return r.onPaymentCreated },
		func(p OnPaymentCreated) error { return p.OnPaymentCreated(ctx, pay) })
}

// EmitPaymentStatusChanged emits a payment status event.
func (r *Registry) EmitPaymentStatusChanged(ctx context.Context, pay *payment.Payment, from payment.Status) {
	emit(ctx, r, "OnPaymentStatusChanged", func(r *Registry) []OnPaymentStatusChanged { return r.onPaymentStatusChanged },
		func(p OnPaymentStatusChanged) error { return p.OnPaymentStatusChanged(ctx, pay, from) })
}

// EmitPaymentReversed emits a refund or chargeback event.
func (r *Registry) EmitPaymentReversed(ctx context.Context, parent, reversal *payment.Payment) {
	emit(ctx, r, "OnPaymentReversed", func(r *Registry) []OnPaymentReversed { return r.onPaymentReversed },
		func(p OnPaymentReversed) error { return p.OnPaymentReversed(ctx, parent, reversal) })
}

// EmitTopUp emits an auto-payment event.
func (r *Registry) EmitTopUp(ctx context.Context, w *wallet.Wallet, pay *payment.Payment) {
	emit(ctx, r, "OnTopUp", func(r *Registry) []OnTopUp { return r.onTopUp },
		func(p OnTopUp) error { return p.OnTopUp(ctx, w, pay) })
}

// EmitMandateDisabled emits a mandate disabled event.
func (r *Registry) EmitMandateDisabled(ctx context.Context, w *wallet.Wallet) {
	emit(ctx, r, "OnMandateDisabled", func(r *Registry) []OnMandateDisabled { return r.onMandateDisabled },
		func(p OnMandateDisabled) error { return p.OnMandateDisabled(ctx, w) })
}

// EmitWebhookProcessed emits a webhook handled event.
func (r *Registry) EmitWebhookProcessed(ctx context.Context, provider string, elapsed time.Duration, err error) {
	emit(ctx, r, "OnWebhookProcessed", func(r *Registry) []OnWebhookProcessed { return r.onWebhookProcessed },
		func(p OnWebhookProcessed) error { return p.OnWebhookProcessed(ctx, provider, elapsed, err) })
}

// EmitProviderError emits a gateway failure event.
func (r *Registry) EmitProviderError(ctx context.Context, provider, op string, err error) {
	emit(ctx, r, "OnProviderError", func(r *Registry) []OnProviderError { return r.onProviderError },
		func(p OnProviderError) error { return p.OnProviderError(ctx, provider, op, err) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
