package wallet

import (
	"errors"
	"fmt"

	"github.com/xraph/wallet/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("wallet: not found")
	ErrAlreadyExists = errors.New("wallet: already exists")
	ErrInvalidInput  = errors.New("wallet: invalid input")

	// Transaction errors
	ErrInvalidAmount          = errors.New("wallet: amount must be positive")
	ErrInvalidTransactionType = errors.New("wallet: invalid transaction type")
	ErrCurrencyMismatch       = errors.New("wallet: currency mismatch")
	ErrInsufficientBalance    = errors.New("wallet: insufficient balance")
	ErrWalletNotFound         = errors.New("wallet: wallet not found")
	ErrTransactionNotFound    = errors.New("wallet: transaction not found")

	// Pricing errors
	ErrPriceNotFound  = errors.New("wallet: price not found")
	ErrInvalidPricing = errors.New("wallet: invalid pricing configuration")

	// Access errors
	ErrInvalidResourceKind = errors.New("wallet: invalid resource kind")
	ErrGrantNotFound       = errors.New("wallet: grant not found")
	ErrGrantExists         = errors.New("wallet: grant already exists")

	// Store errors
	ErrConflict         = errors.New("wallet: write conflict")
	ErrStoreUnavailable = errors.New("wallet: store unavailable")
	ErrStoreClosed      = errors.New("wallet: store is closed")
	ErrMigrationFailed  = errors.New("wallet: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("wallet: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match every validation failure.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// InsufficientBalanceError reports how far a debit overshoots the balance.
type InsufficientBalanceError struct {
	Required  types.Money
	Available types.Money
	Shortfall types.Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("wallet: insufficient balance: required %s, available %s, short by %s",
		e.Required, e.Available, e.Shortfall)
}

// Is matches ErrInsufficientBalance.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func newInsufficientBalance(required, available types.Money) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Required:  required,
		Available: available,
		Shortfall: required.Subtract(available),
	}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrPriceNotFound) ||
		errors.Is(err, ErrGrantNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsValidation returns true if the error was caused by bad caller input.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrInvalidResourceKind) ||
		errors.Is(err, ErrInvalidPricing) ||
		errors.Is(err, ErrCurrencyMismatch)
}
