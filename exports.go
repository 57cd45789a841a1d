package wallet

import (
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	EGP        = types.EGP
	USD        = types.USD
	EUR        = types.EUR
	SAR        = types.SAR
	Zero       = types.Zero
	Sum        = types.Sum
	ParseMoney = types.ParseMoney
)

// Re-export domain types used in Engine signatures.
type (
	Transaction  = transaction.Transaction
	ServicePrice = pricing.ServicePrice
	Quote        = pricing.Quote
	PriceOptions = pricing.PriceOptions
	Grant        = access.Grant
	PayResult    = access.PayResult
)
