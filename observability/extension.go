// Package observability provides a metrics extension for the billing engine
// that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/wallet"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnWalletCreated        = (*MetricsExtension)(nil)
	_ plugin.OnWalletDeleted        = (*MetricsExtension)(nil)
	_ plugin.OnTransactionRecorded  = (*MetricsExtension)(nil)
	_ plugin.OnWalletRestricted     = (*MetricsExtension)(nil)
	_ plugin.OnWalletUnrestricted   = (*MetricsExtension)(nil)
	_ plugin.OnBalanceMismatch      = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementsCharged  = (*MetricsExtension)(nil)
	_ plugin.OnPaymentCreated       = (*MetricsExtension)(nil)
	_ plugin.OnPaymentStatusChanged = (*MetricsExtension)(nil)
	_ plugin.OnPaymentReversed      = (*MetricsExtension)(nil)
	_ plugin.OnTopUp                = (*MetricsExtension)(nil)
	_ plugin.OnMandateDisabled      = (*MetricsExtension)(nil)
	_ plugin.OnWebhookProcessed     = (*MetricsExtension)(nil)
	_ plugin.OnProviderError        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a billing plugin to automatically track billing metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Wallet metrics
	WalletCreated      Counter
	WalletDeleted      Counter
	WalletRestricted   Counter
	WalletUnrestricted Counter

	// Ledger metrics
	TransactionsRecorded Counter
	CreditedAmount       Counter
	DebitedAmount        Counter
	BalanceMismatches    Counter

	// Accounting metrics
	SweepsCharged       Counter
	EntitlementsCharged Counter
	ChargeTotal         Histogram

	// Payment metrics
	PaymentCreated  Counter
	PaymentPaid     Counter
	PaymentFailed   Counter
	PaymentCanceled Counter
	PaymentReversed Counter

	// Mandate metrics
	TopUps           Counter
	MandatesDisabled Counter

	// Provider metrics
	WebhookProcessed Counter
	WebhookFailed    Counter
	WebhookLatency   Histogram
	ProviderErrors   Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory outside of forge.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Wallet metrics
		WalletCreated:      factory.Counter("billing.wallet.created"),
		WalletDeleted:      factory.Counter("billing.wallet.deleted"),
		WalletRestricted:   factory.Counter("billing.wallet.restricted"),
		WalletUnrestricted: factory.Counter("billing.wallet.unrestricted"),

		// Ledger metrics
		TransactionsRecorded: factory.Counter("billing.transaction.recorded"),
		CreditedAmount:       factory.Counter("billing.transaction.credited_amount"),
		DebitedAmount:        factory.Counter("billing.transaction.debited_amount"),
		BalanceMismatches:    factory.Counter("billing.balance.mismatch"),

		// Accounting metrics
		SweepsCharged:       factory.Counter("billing.sweep.charged"),
		EntitlementsCharged: factory.Counter("billing.entitlement.charged"),
		ChargeTotal:         factory.Histogram("billing.sweep.total_amount"),

		// Payment metrics
		PaymentCreated:  factory.Counter("billing.payment.created"),
		PaymentPaid:     factory.Counter("billing.payment.paid"),
		PaymentFailed:   factory.Counter("billing.payment.failed"),
		PaymentCanceled: factory.Counter("billing.payment.canceled"),
		PaymentReversed: factory.Counter("billing.payment.reversed"),

		// Mandate metrics
		TopUps:           factory.Counter("billing.mandate.topup"),
		MandatesDisabled: factory.Counter("billing.mandate.disabled"),

		// Provider metrics
		WebhookProcessed: factory.Counter("billing.webhook.processed"),
		WebhookFailed:    factory.Counter("billing.webhook.failed"),
		WebhookLatency:   factory.Histogram("billing.webhook.latency_ms"),
		ProviderErrors:   factory.Counter("billing.provider.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Wallet lifecycle hooks
// ──────────────────────────────────────────────────

// OnWalletCreated implements plugin.OnWalletCreated.
func (m *MetricsExtension) OnWalletCreated(_ context.Context, _ *wallet.Wallet) error {
	m.WalletCreated.Inc()
	return nil
}

// OnWalletDeleted implements plugin.OnWalletDeleted.
func (m *MetricsExtension) OnWalletDeleted(_ context.Context, _ *wallet.Wallet) error {
	m.WalletDeleted.Inc()
	return nil
}

// OnWalletRestricted implements plugin.OnWalletRestricted.
func (m *MetricsExtension) OnWalletRestricted(_ context.Context, _ *wallet.Wallet) error {
	m.WalletRestricted.Inc()
	return nil
}

// OnWalletUnrestricted implements plugin.OnWalletUnrestricted.
func (m *MetricsExtension) OnWalletUnrestricted(_ context.Context, _ *wallet.Wallet) error {
	m.WalletUnrestricted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (m *MetricsExtension) OnTransactionRecorded(_ context.Context, _ *wallet.Wallet, txn *transaction.Transaction) error {
	m.TransactionsRecorded.Inc()
	if txn.Amount > 0 {
		m.CreditedAmount.Add(float64(txn.Amount))
	} else {
		m.DebitedAmount.Add(float64(-txn.Amount))
	}
	return nil
}

// OnBalanceMismatch implements plugin.OnBalanceMismatch.
func (m *MetricsExtension) OnBalanceMismatch(_ context.Context, _ id.WalletID, _, _ int64) error {
	m.BalanceMismatches.Inc()
	return nil
}

// OnEntitlementsCharged implements plugin.OnEntitlementsCharged.
func (m *MetricsExtension) OnEntitlementsCharged(_ context.Context, _ *wallet.Wallet, total int64, charged int) error {
	if total > 0 {
		m.SweepsCharged.Inc()
		m.ChargeTotal.Observe(float64(total))
	}
	m.EntitlementsCharged.Add(float64(charged))
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCreated implements plugin.OnPaymentCreated.
func (m *MetricsExtension) OnPaymentCreated(_ context.Context, _ *payment.Payment) error {
	m.PaymentCreated.Inc()
	return nil
}

// OnPaymentStatusChanged implements plugin.OnPaymentStatusChanged.
func (m *MetricsExtension) OnPaymentStatusChanged(_ context.Context, p *payment.Payment, _ payment.Status) error {
	switch p.Status {
	case payment.StatusPaid:
		m.PaymentPaid.Inc()
	case payment.StatusFailed:
		m.PaymentFailed.Inc()
	case payment.StatusCanceled, payment.StatusExpired:
		m.PaymentCanceled.Inc()
	}
	return nil
}

// OnPaymentReversed implements plugin.OnPaymentReversed.
func (m *MetricsExtension) OnPaymentReversed(_ context.Context, _, _ *payment.Payment) error {
	m.PaymentReversed.Inc()
	return nil
}

// OnTopUp implements plugin.OnTopUp.
func (m *MetricsExtension) OnTopUp(_ context.Context, _ *wallet.Wallet, _ *payment.Payment) error {
	m.TopUps.Inc()
	return nil
}

// OnMandateDisabled implements plugin.OnMandateDisabled.
func (m *MetricsExtension) OnMandateDisabled(_ context.Context, _ *wallet.Wallet) error {
	m.MandatesDisabled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnWebhookProcessed implements plugin.OnWebhookProcessed.
func (m *MetricsExtension) OnWebhookProcessed(_ context.Context, _ string, elapsed time.Duration, err error) error {
	if err != nil {
		m.WebhookFailed.Inc()
	} else {
		m.WebhookProcessed.Inc()
	}
	m.WebhookLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnProviderError implements plugin.OnProviderError.
func (m *MetricsExtension) OnProviderError(_ context.Context, _, _ string, _ error) error {
	m.ProviderErrors.Inc()
	return nil
}
