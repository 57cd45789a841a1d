package transaction

import (
	"context"
	"time"

	"github.com/xraph/wallet/id"
)

type Store interface {
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error)
}

// ListOpts filters a transaction listing. Zero values mean "no filter";
// results are ordered newest first.
type ListOpts struct {
	Type          Type
	Status        Status
	ReferenceID   string
	ReferenceType string
	Since         *time.Time
	Until         *time.Time
	Limit         int
	Offset        int
}

// Match reports whether t passes every filter in o except paging.
func (o ListOpts) Match(t *Transaction) bool {
	if o.Type != "" && t.Type != o.Type {
		return false
	}
	if o.Status != "" && t.Status != o.Status {
		return false
	}
	if o.ReferenceID != "" && t.ReferenceID != o.ReferenceID {
		return false
	}
	if o.ReferenceType != "" && t.ReferenceType != o.ReferenceType {
		return false
	}
	if o.Since != nil && t.CreatedAt.Before(*o.Since) {
		return false
	}
	if o.Until != nil && !t.CreatedAt.Before(*o.Until) {
		return false
	}
	return true
}
