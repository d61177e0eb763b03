// Package provider abstracts payment gateways.
//
// A Provider moves money: one-off payments, mandate setup, automatic
// charges against a mandate and refunds. A WebhookAdapter turns a gateway
// callback into a NormalizedEvent so the reconciler never sees a
// provider-specific vocabulary. Providers never touch the ledger.
package provider

import (
	"context"
	"net/http"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/wallet"
)

// Provider is one payment gateway.
type Provider interface {
	// Name is the registry key, stored on every payment.
	Name() string

	// CreatePayment starts a one-off payment. The returned Result is
	// usually open and carries a checkout URL.
	CreatePayment(ctx context.Context, req PaymentRequest) (*Result, error)

	// CreateMandate starts a mandate setup payment (type "first"). The
	// amount may be zero.
	CreateMandate(ctx context.Context, req PaymentRequest) (*Result, error)

	// Charge creates a recurring payment against req.MandateID. It returns
	// (nil, nil) when the gateway has no valid mandate for the customer.
	Charge(ctx context.Context, req PaymentRequest) (*Result, error)

	// GetMandate returns the gateway view of a wallet mandate, nil when
	// the gateway does not know it (anymore).
	GetMandate(ctx context.Context, m wallet.Mandate) (*Mandate, error)

	// DeleteMandate revokes the mandate at the gateway.
	DeleteMandate(ctx context.Context, m wallet.Mandate) error

	// Refund returns part of a paid payment to the payer.
	Refund(ctx context.Context, req RefundRequest) (*Reversal, error)

	// Cancel aborts a pending payment and returns its new status.
	Cancel(ctx context.Context, paymentID string) (payment.Status, error)

	// FetchPayment reads the current gateway state of a payment.
	FetchPayment(ctx context.Context, paymentID string) (*NormalizedEvent, error)
}

// WebhookAdapter verifies and decodes gateway callbacks.
type WebhookAdapter interface {
	// VerifySignature returns ErrInvalidSignature when the request was
	// not signed by the gateway.
	VerifySignature(header http.Header, body []byte) error

	// ParseEvent decodes a verified callback. Adapters whose callbacks
	// only carry an id fetch the payment from the gateway.
	ParseEvent(ctx context.Context, header http.Header, body []byte) (*NormalizedEvent, error)
}

// PaymentRequest describes a payment to create. Amount is in the smallest
// unit of Currency, VAT included.
type PaymentRequest struct {
	WalletID    id.WalletID
	OwnerName   string
	CustomerID  string
	MandateID   string
	Type        payment.Type
	Amount      int64
	Currency    string
	Description string
	MethodID    string
	RedirectURL string
	WebhookURL  string
	// IdempotencyKey is forwarded to gateways that support it.
	IdempotencyKey string
}

// RefundRequest describes a merchant-initiated refund. Amount is positive
// and in the currency the payment was charged in.
type RefundRequest struct {
	PaymentID   string
	Amount      int64
	Currency    string
	Description string
}

// Result is the gateway answer to a payment request.
type Result struct {
	ID          string
	Status      payment.Status
	CheckoutURL string
	// CustomerID is set when the gateway created a customer for the
	// wallet during the request.
	CustomerID string
	// MandateID is set when the gateway created the mandate synchronously.
	MandateID string
	// Currency and CurrencyAmount override the requested currency when
	// the gateway settles in another one.
	Currency       string
	CurrencyAmount int64
}

// Mandate is the gateway view of a wallet mandate.
type Mandate struct {
	ID       string `json:"id"`
	Method   string `json:"method"`
	MethodID string `json:"method_id"`
	Pending  bool   `json:"is_pending"`
	Valid    bool   `json:"is_valid"`
}

// NormalizedEvent is a provider-neutral payment update.
type NormalizedEvent struct {
	Provider  string
	PaymentID string
	// Status is the gateway status of the payment, empty when the event
	// carries no status change.
	Status payment.Status
	// Sequence is the gateway payment type when it reports one.
	Sequence payment.Type
	// MandateID is set by a successful mandate setup.
	MandateID  string
	CustomerID string
	Reversals  []Reversal
}

// Empty reports whether the event has nothing to apply.
func (e *NormalizedEvent) Empty() bool {
	return e == nil || (e.Status == "" && e.MandateID == "" && len(e.Reversals) == 0)
}

// Reversal is a refund or chargeback of a paid payment. Amount is positive
// and in Currency, the currency the payment was charged in.
type Reversal struct {
	ID          string
	Type        payment.Type
	Amount      int64
	Currency    string
	Description string
	// Settled reports whether the money has left the merchant account.
	// Only settled reversals are applied to the ledger.
	Settled bool
}
