// Package plugin provides an extensible plugin system for the billing
// engine. Plugins hook into wallet, payment and mandate events to record
// metrics, audit trails or anything else that must not block billing.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/wallet"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnWalletCreated is called after a wallet is created.
type OnWalletCreated interface {
	Plugin
	OnWalletCreated(ctx context.Context, w *wallet.Wallet) error
}

// OnWalletDeleted is called after a wallet is deleted.
type OnWalletDeleted interface {
	Plugin
	OnWalletDeleted(ctx context.Context, w *wallet.Wallet) error
}

// OnTransactionRecorded is called after a wallet transaction is committed.
// w carries the balance after the transaction.
type OnTransactionRecorded interface {
	Plugin
	OnTransactionRecorded(ctx context.Context, w *wallet.Wallet, txn *transaction.Transaction) error
}

// OnWalletRestricted is called when a wallet is degraded.
type OnWalletRestricted interface {
	Plugin
	OnWalletRestricted(ctx context.Context, w *wallet.Wallet) error
}

// OnWalletUnrestricted is called when a credit lifts the restriction.
type OnWalletUnrestricted interface {
	Plugin
	OnWalletUnrestricted(ctx context.Context, w *wallet.Wallet) error
}

// OnBalanceMismatch is called when a cached balance differs from the sum
// of the wallet transactions.
type OnBalanceMismatch interface {
	Plugin
	OnBalanceMismatch(ctx context.Context, walletID id.WalletID, cached, sum int64) error
}

// ──────────────────────────────────────────────────
// Accounting hooks
// ──────────────────────────────────────────────────

// OnEntitlementsCharged is called after a sweep debited a wallet.
type OnEntitlementsCharged interface {
	Plugin
	OnEntitlementsCharged(ctx context.Context, w *wallet.Wallet, total int64, charged int) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCreated is called after a payment was opened with a provider.
type OnPaymentCreated interface {
	Plugin
	OnPaymentCreated(ctx context.Context, p *payment.Payment) error
}

// OnPaymentStatusChanged is called after a payment left a pending status.
type OnPaymentStatusChanged interface {
	Plugin
	OnPaymentStatusChanged(ctx context.Context, p *payment.Payment, from payment.Status) error
}

// OnPaymentReversed is called after a refund or chargeback was applied.
type OnPaymentReversed interface {
	Plugin
	OnPaymentReversed(ctx context.Context, parent, reversal *payment.Payment) error
}

// ──────────────────────────────────────────────────
// Mandate hooks
// ──────────────────────────────────────────────────

// OnTopUp is called after an auto-payment was charged.
type OnTopUp interface {
	Plugin
	OnTopUp(ctx context.Context, w *wallet.Wallet, p *payment.Payment) error
}

// OnMandateDisabled is called when a failed auto-payment disables the
// mandate.
type OnMandateDisabled interface {
	Plugin
	OnMandateDisabled(ctx context.Context, w *wallet.Wallet) error
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed is called after a gateway callback was handled.
type OnWebhookProcessed interface {
	Plugin
	OnWebhookProcessed(ctx context.Context, provider string, elapsed time.Duration, err error) error
}

// OnProviderError is called when a gateway call fails.
type OnProviderError interface {
	Plugin
	OnProviderError(ctx context.Context, provider, op string, err error) error
}
