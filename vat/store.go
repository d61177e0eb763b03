package vat

import (
	"context"
	"time"
)

type Store interface {
	Create(ctx context.Context, r *Rate) error
	// Effective returns the most recent rate for country with start <= at.
	Effective(ctx context.Context, country string, at time.Time) (*Rate, error)
	List(ctx context.Context, country string) ([]*Rate, error)
}
