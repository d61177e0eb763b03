// Package audithook bridges billing lifecycle events to an audit trail backend.
//
// Events are handed to a Recorder. Any audit store can be plugged in with a
// RecorderFunc; cmd/billingd writes them to the structured log.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/transaction"
	"github.com/xraph/billing/wallet"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnWalletCreated        = (*Extension)(nil)
	_ plugin.OnWalletDeleted        = (*Extension)(nil)
	_ plugin.OnWalletRestricted     = (*Extension)(nil)
	_ plugin.OnWalletUnrestricted   = (*Extension)(nil)
	_ plugin.OnTransactionRecorded  = (*Extension)(nil)
	_ plugin.OnBalanceMismatch      = (*Extension)(nil)
	_ plugin.OnEntitlementsCharged  = (*Extension)(nil)
	_ plugin.OnPaymentCreated       = (*Extension)(nil)
	_ plugin.OnPaymentStatusChanged = (*Extension)(nil)
	_ plugin.OnPaymentReversed      = (*Extension)(nil)
	_ plugin.OnTopUp                = (*Extension)(nil)
	_ plugin.OnMandateDisabled      = (*Extension)(nil)
	_ plugin.OnProviderError        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one recorded billing event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges billing lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Wallet lifecycle hooks
// ──────────────────────────────────────────────────

// OnWalletCreated implements plugin.OnWalletCreated.
func (e *Extension) OnWalletCreated(ctx context.Context, w *wallet.Wallet) error {
	return e.record(ctx, ActionWalletCreated, SeverityInfo, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryBilling, nil,
		"owner_id", w.OwnerID,
		"tenant_id", w.TenantID,
		"currency", w.Currency,
	)
}

// OnWalletDeleted implements plugin.OnWalletDeleted.
func (e *Extension) OnWalletDeleted(ctx context.Context, w *wallet.Wallet) error {
	return e.record(ctx, ActionWalletDeleted, SeverityInfo, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryBilling, nil,
		"owner_id", w.OwnerID,
	)
}

// OnWalletRestricted implements plugin.OnWalletRestricted.
func (e *Extension) OnWalletRestricted(ctx context.Context, w *wallet.Wallet) error {
	return e.record(ctx, ActionWalletRestricted, SeverityWarning, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryBilling, nil,
		"owner_id", w.OwnerID,
		"balance", w.Balance,
	)
}

// OnWalletUnrestricted implements plugin.OnWalletUnrestricted.
func (e *Extension) OnWalletUnrestricted(ctx context.Context, w *wallet.Wallet) error {
	return e.record(ctx, ActionWalletUnrestricted, SeverityInfo, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryBilling, nil,
		"balance", w.Balance,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (e *Extension) OnTransactionRecorded(ctx context.Context, w *wallet.Wallet, txn *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionRecorded, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, txn.ID.String(), CategoryLedger, nil,
		"wallet_id", w.ID.String(),
		"type", string(txn.Type),
		"amount", txn.Amount,
		"balance", w.Balance,
		"payment_id", txn.PaymentID,
		"user_id", txn.UserID,
	)
}

// OnBalanceMismatch implements plugin.OnBalanceMismatch.
func (e *Extension) OnBalanceMismatch(ctx context.Context, walletID id.WalletID, cached, sum int64) error {
	return e.record(ctx, ActionBalanceMismatch, SeverityCritical, OutcomeFailure,
		ResourceWallet, walletID.String(), CategoryLedger, nil,
		"balance", cached,
		"transactions", sum,
	)
}

// OnEntitlementsCharged implements plugin.OnEntitlementsCharged.
func (e *Extension) OnEntitlementsCharged(ctx context.Context, w *wallet.Wallet, total int64, charged int) error {
	if total == 0 {
		return nil
	}
	return e.record(ctx, ActionEntitlementsCharged, SeverityInfo, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryLedger, nil,
		"total", total,
		"charged", charged,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentCreated implements plugin.OnPaymentCreated.
func (e *Extension) OnPaymentCreated(ctx context.Context, p *payment.Payment) error {
	return e.record(ctx, ActionPaymentCreated, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID, CategoryPayment, nil,
		"wallet_id", p.WalletID.String(),
		"provider", p.Provider,
		"type", string(p.Type),
		"amount", p.Amount,
	)
}

// OnPaymentStatusChanged implements plugin.OnPaymentStatusChanged.
func (e *Extension) OnPaymentStatusChanged(ctx context.Context, p *payment.Payment, from payment.Status) error {
	action, severity, outcome := ActionPaymentCanceled, SeverityInfo, OutcomeFailure
	switch p.Status {
	case payment.StatusPaid:
		action, outcome = ActionPaymentPaid, OutcomeSuccess
	case payment.StatusFailed:
		action, severity = ActionPaymentFailed, SeverityWarning
	}
	return e.record(ctx, action, severity, outcome,
		ResourcePayment, p.ID, CategoryPayment, nil,
		"wallet_id", p.WalletID.String(),
		"provider", p.Provider,
		"from", string(from),
		"to", string(p.Status),
		"credit_amount", p.CreditAmount,
	)
}

// OnPaymentReversed implements plugin.OnPaymentReversed.
func (e *Extension) OnPaymentReversed(ctx context.Context, parent, reversal *payment.Payment) error {
	return e.record(ctx, ActionPaymentReversed, SeverityWarning, OutcomeSuccess,
		ResourcePayment, parent.ID, CategoryPayment, nil,
		"reversal_id", reversal.ID,
		"type", string(reversal.Type),
		"amount", reversal.Amount,
		"status", string(reversal.Status),
	)
}

// OnTopUp implements plugin.OnTopUp.
func (e *Extension) OnTopUp(ctx context.Context, w *wallet.Wallet, p *payment.Payment) error {
	return e.record(ctx, ActionTopUp, SeverityInfo, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryPayment, nil,
		"payment_id", p.ID,
		"amount", p.CreditAmount,
	)
}

// OnMandateDisabled implements plugin.OnMandateDisabled.
func (e *Extension) OnMandateDisabled(ctx context.Context, w *wallet.Wallet) error {
	return e.record(ctx, ActionMandateDisabled, SeverityWarning, OutcomeFailure,
		ResourceWallet, w.ID.String(), CategoryPayment, nil,
		"provider", w.Mandate.Provider,
	)
}

// OnProviderError implements plugin.OnProviderError.
func (e *Extension) OnProviderError(ctx context.Context, provider, op string, err error) error {
	return e.record(ctx, ActionProviderError, SeverityError, OutcomeFailure,
		ResourceProvider, provider, CategoryIntegration, err,
		"op", op,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
