package wallet

import (
	"context"

	"github.com/xraph/billing/id"
)

type Store interface {
	Create(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, walletID id.WalletID) (*Wallet, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Wallet, error)
	List(ctx context.Context, opts ListOpts) ([]*Wallet, error)
	Delete(ctx context.Context, walletID id.WalletID) error
}

type ListOpts struct {
	TenantID string
	// Negative restricts the listing to wallets with a balance below zero.
	Negative bool
	Limit    int
	Offset   int
}
