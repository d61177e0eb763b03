package entitlement

import (
	"context"
	"time"

	"github.com/xraph/billing/id"
)

type Store interface {
	Create(ctx context.Context, e *Entitlement) error
	Get(ctx context.Context, entID id.EntitlementID) (*Entitlement, error)
	List(ctx context.Context, walletID id.WalletID, opts ListOpts) ([]*Entitlement, error)
	ListByObject(ctx context.Context, ref Ref) ([]*Entitlement, error)
	SoftDelete(ctx context.Context, entID id.EntitlementID, at time.Time) error
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// ListOpts filters entitlement listings. Results are ordered by
// created_at, then id.
type ListOpts struct {
	SkuID       id.SkuID
	WithDeleted bool
}
