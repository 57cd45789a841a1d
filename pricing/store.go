package pricing

import (
	"context"
)

type Store interface {
	GetPrice(ctx context.Context, serviceType string) (*ServicePrice, error)
	UpsertPrice(ctx context.Context, p *ServicePrice) error
	DeletePrice(ctx context.Context, serviceType string) error
	ListPrices(ctx context.Context, opts ListOpts) ([]*ServicePrice, error)
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
