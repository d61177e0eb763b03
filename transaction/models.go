// Package transaction defines the append-only wallet ledger.
package transaction

import (
	"time"

	"github.com/xraph/billing/id"
)

// Type is the kind of ledger transaction.
type Type string

const (
	// Wallet transactions, counted in the wallet balance.
	TypeCredit     Type = "credit"
	TypeDebit      Type = "debit"
	TypeAward      Type = "award"
	TypePenalty    Type = "penalty"
	TypeRefund     Type = "refund"
	TypeChargeback Type = "chback"

	// Entitlement transactions, itemizing a wallet transaction or
	// recording entitlement lifecycle.
	TypeBilled  Type = "billed"
	TypeCreated Type = "created"
	TypeDeleted Type = "deleted"
)

// Sign returns +1 for types that increase the balance and -1 for types that
// decrease it.
func (t Type) Sign() int64 {
	switch t {
	case TypeCredit, TypeAward:
		return 1
	default:
		return -1
	}
}

// IsWalletType reports whether the type applies to the wallet balance.
func (t Type) IsWalletType() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeAward, TypePenalty, TypeRefund, TypeChargeback:
		return true
	default:
		return false
	}
}

// ObjectType tags what a transaction applies to.
type ObjectType string

const (
	ObjectWallet      ObjectType = "wallet"
	ObjectEntitlement ObjectType = "entitlement"
)

// Transaction is an immutable ledger row. Wallet transactions carry the
// signed amount applied to the balance. Entitlement transactions carry the
// positive per-item cost and point at their wallet transaction through
// ParentID.
type Transaction struct {
	ID          id.TransactionID `json:"id"`
	WalletID    id.WalletID      `json:"wallet_id"`
	ObjectType  ObjectType       `json:"object_type"`
	ObjectID    string           `json:"object_id"`
	Type        Type             `json:"type"`
	Amount      int64            `json:"amount"`
	Description string           `json:"description,omitempty"`
	ParentID    id.TransactionID `json:"parent_id,omitempty"`
	PaymentID   string           `json:"payment_id,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// AffectsBalance reports whether the row is part of the wallet balance sum.
func (t *Transaction) AffectsBalance() bool {
	return t.ObjectType == ObjectWallet
}
