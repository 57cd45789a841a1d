// Package wallet provides a per-user wallet ledger with pay-per-view access
// grants for Go applications.
//
// Wallet is designed as a library, not a service. Import it directly into your
// Go application. It provides:
//
//   - Integer minor-unit balances with an immutable transaction history
//   - Atomic charges: a transaction and its balance change land together or not at all
//   - A pricing catalog with time-bounded percentage offers and fallback prices
//   - Exactly-once unlocks of priced resources per (payer, resource, kind)
//   - Reconciliation of balances and grants against the transaction history
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/wallet"
//	    "github.com/xraph/wallet/store/postgres"
//	)
//
//	s, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w := wallet.New(s)
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Core Concepts
//
// Charges move money in or out of a wallet. The direction follows from the
// transaction type:
//
//	txn, err := w.Charge(ctx, wallet.ChargeInput{
//	    UserID: "seeker-1",
//	    Type:   transaction.TypeDeposit,
//	    Amount: wallet.EGP(5000),
//	})
//
// Prices are looked up per service and may carry an offer:
//
//	q, err := w.EffectivePrice(ctx, pricing.ServiceViewJobDetails)
//
// Unlocking a resource charges its effective price once and grants access
// permanently:
//
//	res, err := w.PayToView(ctx, "seeker-1", "job-42", access.KindJobDetails)
//	if res.Success {
//	    // show the job
//	}
//
// # Concurrency
//
// Every write runs inside the store's atomic unit for the paying user. The
// unit re-checks the grant before charging, so concurrent duplicate unlocks
// charge once. An optional lock.Locker (for example lock/redislock) reduces
// contention but is never required for correctness.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41    // Transaction ID
//	grant_01h2xcejqtf2nbrexx3vqjhp41  // Grant ID
//	price_01h455vb4pex5vsknk084sn02q  // Price ID
package wallet
