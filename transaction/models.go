package transaction

import (
	"time"

	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/types"
)

// Type classifies a balance-affecting event. The direction of the balance
// change is derived from the type and never supplied by callers.
type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypePayment    Type = "payment"
	TypeRefund     Type = "refund"
	TypeBonus      Type = "bonus"
	TypeCashback   Type = "cashback"
)

// Types lists every supported transaction type.
var Types = []Type{TypeDeposit, TypeWithdrawal, TypePayment, TypeRefund, TypeBonus, TypeCashback}

// Valid reports whether t is one of the supported types.
func (t Type) Valid() bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// Direction returns whether t adds to or removes from the balance.
func (t Type) Direction() Direction {
	switch t {
	case TypeWithdrawal, TypePayment:
		return Debit
	default:
		return Credit
	}
}

type Direction int

const (
	Credit Direction = 1
	Debit  Direction = -1
)

func (d Direction) String() string {
	if d == Debit {
		return "debit"
	}
	return "credit"
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is an immutable record of one balance-affecting event.
// Amount is always a positive magnitude.
type Transaction struct {
	ID             id.TransactionID  `json:"id"`
	UserID         string            `json:"user_id"`
	Type           Type              `json:"type"`
	Amount         types.Money       `json:"amount"`
	Status         Status            `json:"status"`
	Description    string            `json:"description,omitempty"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	ReferenceType  string            `json:"reference_type,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	BalanceAfter   types.Money       `json:"balance_after"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Signed returns the amount with the sign of the type's direction.
func (t *Transaction) Signed() int64 {
	return int64(t.Type.Direction()) * t.Amount.Amount
}

// Counts reports whether the transaction contributes to the balance.
func (t *Transaction) Counts() bool {
	return t.Status == StatusCompleted
}

// SignedSum returns the balance implied by the completed transactions in txns.
func SignedSum(txns []*Transaction) int64 {
	var total int64
	for _, t := range txns {
		if t.Counts() {
			total += t.Signed()
		}
	}
	return total
}
