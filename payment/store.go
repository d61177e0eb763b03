package payment

import (
	"context"

	"github.com/xraph/billing/id"
)

type Store interface {
	Get(ctx context.Context, paymentID string) (*Payment, error)
	List(ctx context.Context, walletID id.WalletID, opts ListOpts) ([]*Payment, error)
	Children(ctx context.Context, parentID string) ([]*Payment, error)
}

// ListOpts filters listings. Results are newest first.
type ListOpts struct {
	Status Status
	Type   Type
	Limit  int
	Offset int
}
