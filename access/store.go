package access

import (
	"context"
)

type Store interface {
	GetGrant(ctx context.Context, key Key) (*Grant, error)
	ListGrants(ctx context.Context, payerID string, opts ListOpts) ([]*Grant, error)
	// CreateGrant inserts g unless a grant with the same key exists, in which
	// case it returns the store's grant-exists error.
	CreateGrant(ctx context.Context, g *Grant) error
}

type ListOpts struct {
	Kind   Kind
	Limit  int
	Offset int
}
