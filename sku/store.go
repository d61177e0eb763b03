package sku

import (
	"context"

	"github.com/xraph/billing/id"
)

type Store interface {
	Create(ctx context.Context, s *Sku) error
	Get(ctx context.Context, skuID id.SkuID) (*Sku, error)
	GetByTitle(ctx context.Context, tenantID, title string) (*Sku, error)
	List(ctx context.Context, tenantID string, opts ListOpts) ([]*Sku, error)
	Update(ctx context.Context, s *Sku) error
}

type ListOpts struct {
	Active bool
	Limit  int
	Offset int
}
