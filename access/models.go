package access

import (
	"time"

	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/types"
)

// Kind names the class of resource a grant unlocks.
type Kind string

const (
	KindSeekerProfile Kind = "seeker_profile"
	KindJobDetails    Kind = "job_details"
)

// Kinds lists the built-in kinds.
var Kinds = []Kind{KindSeekerProfile, KindJobDetails}

// Key is the composite identity of a grant. At most one grant exists per key.
type Key struct {
	PayerID    string `json:"payer_id"`
	ResourceID string `json:"resource_id"`
	Kind       Kind   `json:"kind"`
}

func (k Key) String() string {
	return k.PayerID + ":" + string(k.Kind) + ":" + k.ResourceID
}

// Grant is a permanent unlock of one resource for one payer.
type Grant struct {
	ID            id.GrantID       `json:"id"`
	Key           Key              `json:"key"`
	AmountPaid    types.Money      `json:"amount_paid"`
	TransactionID id.TransactionID `json:"transaction_id"`
	GrantedAt     time.Time        `json:"granted_at"`
}

// PayResult is the outcome of a pay-to-view attempt.
type PayResult struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	TransactionID id.TransactionID `json:"transaction_id,omitempty"`
	Charged       types.Money      `json:"charged"`
	Code          Code             `json:"code,omitempty"`
	Shortfall     *types.Money     `json:"shortfall,omitempty"`
}

// Code classifies a failed pay-to-view attempt.
type Code string

const (
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeTransactionFailed   Code = "transaction_failed"
	CodeUnknown             Code = "unknown_error"
	CodeInvalidRequest      Code = "invalid_request"
)

// Messages returned in PayResult.
const (
	MessageAlreadyGranted = "already have access"
	MessageGranted        = "access granted"
	MessageRestored       = "access restored from an earlier payment"
	MessageInsufficient   = "insufficient balance"
	MessageFailed         = "transaction failed, please try again"
	MessageUnknown        = "unexpected error"
	MessageInvalid        = "invalid request"
)
