// Package notify defines the notifications the billing engine emits.
// Rendering and delivery are left to the Notifier implementation.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/billing/id"
)

// Kind identifies a notification.
type Kind string

const (
	// KindPaymentSuccess is sent when an auto-payment was credited.
	KindPaymentSuccess Kind = "payment.success"
	// KindMandateDisabled is sent when an auto-payment failed and the
	// mandate was disabled.
	KindMandateDisabled Kind = "mandate.disabled"

	KindNegativeBalance         Kind = "balance.negative"
	KindNegativeBalanceReminder Kind = "balance.negative.reminder"
	KindNegativeBalanceDegraded Kind = "balance.negative.degraded"
	KindDegradedAccountReminder Kind = "account.degraded.reminder"
)

// Notification is addressed to the owner of a wallet.
type Notification struct {
	Kind      Kind        `json:"kind"`
	WalletID  id.WalletID `json:"wallet_id"`
	OwnerID   string      `json:"owner_id"`
	PaymentID string      `json:"payment_id,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Amount    int64       `json:"amount,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	Balance   int64       `json:"balance"`
}

// Notifier delivers notifications. Callers treat delivery as fire and
// forget: errors are logged, never propagated into ledger operations.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"wallet_id", n.WalletID.String(),
		"owner_id", n.OwnerID,
		"payment_id", n.PaymentID,
		"amount", n.Amount,
		"balance", n.Balance,
	)
	return nil
}
