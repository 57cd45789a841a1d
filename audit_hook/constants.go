package audithook

// Action constants for audit events.
const (
	// Transaction actions
	ActionTransactionCompleted = "transaction.completed"
	ActionChargeRejected       = "charge.rejected"

	// Access actions
	ActionAccessGranted  = "access.granted"
	ActionAccessRestored = "access.restored"

	// Pricing actions
	ActionPriceChanged = "price.changed"
	ActionPriceDeleted = "price.deleted"

	// Reconciliation actions
	ActionReconcileMismatch = "reconcile.mismatch"
)

// Resource constants for audit events.
const (
	ResourceTransaction = "transaction"
	ResourceWallet      = "wallet"
	ResourceGrant       = "grant"
	ResourcePrice       = "price"
)

// Category constants for audit events.
const (
	CategoryLedger    = "ledger"
	CategoryAccess    = "access"
	CategoryPricing   = "pricing"
	CategoryIntegrity = "integrity"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
