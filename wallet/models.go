// Package wallet defines the customer account that entitlements are billed
// against and payments are credited to.
package wallet

import (
	"slices"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

// Wallet holds a cached balance in the smallest currency unit. The balance
// always equals the sum of the wallet's ledger transactions.
type Wallet struct {
	types.Entity
	ID          id.WalletID   `json:"id"`
	TenantID    string        `json:"tenant_id"`
	OwnerID     string        `json:"owner_id"`
	Description string        `json:"description,omitempty"`
	Balance     int64         `json:"balance"`
	Currency    string        `json:"currency"`
	Country     string        `json:"country,omitempty"`
	DiscountID  id.DiscountID `json:"discount_id,omitempty"`
	PlanID      id.PlanID     `json:"plan_id,omitempty"`
	// TenantWalletID receives the reseller margin (cost minus fee) of
	// everything billed to this wallet.
	TenantWalletID id.WalletID `json:"tenant_wallet_id,omitempty"`
	Controllers    []string    `json:"controllers,omitempty"`
	Restricted     bool        `json:"restricted"`
	Mandate        Mandate     `json:"mandate"`
	Check          CheckState  `json:"check"`
}

// Money returns the balance as a Money value.
func (w *Wallet) Money() types.Money {
	return types.New(w.Balance, w.Currency)
}

// IsController reports whether userID may manage the wallet without
// owning it.
func (w *Wallet) IsController(userID string) bool {
	return slices.Contains(w.Controllers, userID)
}

// CanManage reports whether userID owns or controls the wallet.
func (w *Wallet) CanManage(userID string) bool {
	return w.OwnerID == userID || w.IsController(userID)
}

// Mandate is the auto-payment configuration of a wallet.
type Mandate struct {
	Provider   string `json:"provider,omitempty"`
	ID         string `json:"id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	// Amount is the top-up amount charged per auto-payment.
	Amount int64 `json:"amount"`
	// Balance is the threshold under which a top-up is triggered.
	Balance  int64 `json:"balance"`
	Disabled bool  `json:"disabled"`
}

// Configured reports whether amount and threshold were set.
func (m Mandate) Configured() bool {
	return m.Amount > 0
}

// CheckState tracks the negative-balance reminder schedule.
type CheckState struct {
	NegativeSince  *time.Time `json:"negative_since,omitempty"`
	InitialSentAt  *time.Time `json:"initial_sent_at,omitempty"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	DegradedSentAt *time.Time `json:"degraded_sent_at,omitempty"`
}

// Reset clears the schedule, e.g. once the balance is back to non-negative.
func (c *CheckState) Reset() {
	*c = CheckState{}
}
