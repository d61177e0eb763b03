package discount

import (
	"context"

	"github.com/xraph/billing/id"
)

type Store interface {
	Create(ctx context.Context, d *Discount) error
	Get(ctx context.Context, discountID id.DiscountID) (*Discount, error)
	GetByCode(ctx context.Context, tenantID, code string) (*Discount, error)
	List(ctx context.Context, tenantID string, opts ListOpts) ([]*Discount, error)
	Update(ctx context.Context, d *Discount) error
}

type ListOpts struct {
	Active bool
	Limit  int
	Offset int
}
