package transaction

import (
	"context"

	"github.com/xraph/billing/id"
)

type Store interface {
	List(ctx context.Context, walletID id.WalletID, opts ListOpts) ([]*Transaction, error)
	Children(ctx context.Context, parentID id.TransactionID) ([]*Transaction, error)
	// SumBalance sums the signed amounts of the wallet transactions.
	SumBalance(ctx context.Context, walletID id.WalletID) (int64, error)
}

// ListOpts filters listings. Results are newest first.
type ListOpts struct {
	Types  []Type
	Limit  int
	Offset int
}
