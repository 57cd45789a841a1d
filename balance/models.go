// Package balance defines the per-user wallet balance.
package balance

import (
	"github.com/xraph/wallet/types"
)

// Balance is the current spendable amount of one user. Currency stays empty
// until the first transaction establishes it.
type Balance struct {
	types.Entity
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Money returns the balance as a Money value.
func (b *Balance) Money() types.Money {
	return types.Money{Amount: b.Amount, Currency: b.Currency}
}

// HasCurrency reports whether a currency has been established.
func (b *Balance) HasCurrency() bool {
	return b.Currency != ""
}

// Zero returns the default balance of a wallet that has never been used.
func Zero(userID string) *Balance {
	return &Balance{UserID: userID}
}
