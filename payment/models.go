// Package payment defines gateway payments and their status machine.
package payment

import (
	"github.com/shopspring/decimal"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

// Status is the gateway status of a payment.
type Status string

const (
	StatusOpen       Status = "open"
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusExpired    Status = "expired"
)

// IsPending reports whether the gateway may still settle the payment.
func (s Status) IsPending() bool {
	switch s {
	case StatusOpen, StatusPending, StatusAuthorized:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is accepted.
func (s Status) IsTerminal() bool {
	return !s.IsPending()
}

// Type is the kind of payment.
type Type string

const (
	TypeOneOff     Type = "oneoff"
	TypeRecurring  Type = "recurring"
	TypeMandate    Type = "first"
	TypeRefund     Type = "refund"
	TypeChargeback Type = "chargeback"
)

// Payment is keyed by the gateway-assigned id.
//
// Amount is the gross amount in the wallet currency, VAT included.
// CreditAmount is the share credited to the wallet (Amount without VAT).
// CurrencyAmount is the amount in Currency, the currency actually charged.
// Refund and chargeback rows carry negative amounts and point at the
// original payment through ParentID.
type Payment struct {
	types.Entity
	ID             string       `json:"id"`
	WalletID       id.WalletID  `json:"wallet_id"`
	Provider       string       `json:"provider"`
	Type           Type         `json:"type"`
	Status         Status       `json:"status"`
	Amount         int64        `json:"amount"`
	CreditAmount   int64        `json:"credit_amount"`
	CurrencyAmount int64        `json:"currency_amount"`
	Currency       string       `json:"currency"`
	VatRateID      id.VatRateID `json:"vat_rate_id,omitempty"`
	Description    string       `json:"description,omitempty"`
	ParentID       string       `json:"parent_id,omitempty"`
	CheckoutURL    string       `json:"checkout_url,omitempty"`
}

// rank orders statuses along the payment lifecycle. Unknown statuses rank
// below open.
func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 1
	case StatusPending:
		return 2
	case StatusAuthorized:
		return 3
	case StatusPaid, StatusFailed, StatusCanceled, StatusExpired:
		return 4
	default:
		return 0
	}
}

// CanTransitionTo reports whether the status may move to next. Only
// pending payments move, and only forward: open, then pending, then
// authorized, then a terminal status.
func (p *Payment) CanTransitionTo(next Status) bool {
	return p.Status.IsPending() && next.rank() > p.Status.rank()
}

// ConvertRefund converts a refunded amount expressed in the charged
// currency into the wallet currency (amount) and into the credited share
// (credit), both rounded half up. The results are positive; callers store
// them negated.
func (p *Payment) ConvertRefund(currencyAmount int64) (amount, credit int64) {
	amount = currencyAmount
	if p.CurrencyAmount != 0 && p.CurrencyAmount != p.Amount {
		rate := decimal.NewFromInt(p.Amount).Div(decimal.NewFromInt(p.CurrencyAmount))
		amount = types.RoundRate(currencyAmount, rate)
	}

	credit = amount
	if p.Amount != 0 && p.CreditAmount != p.Amount {
		rate := decimal.NewFromInt(p.CreditAmount).Div(decimal.NewFromInt(p.Amount))
		credit = types.RoundRate(amount, rate)
	}
	return amount, credit
}
