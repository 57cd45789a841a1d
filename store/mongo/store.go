// Package mongo implements store.Store on MongoDB through Grove and the
// official driver. Atomic units run as multi-document transactions and
// therefore need a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/balance"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	walletstore "github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
)

// Collection name constants.
const (
	colBalances     = "wallet_balances"
	colTransactions = "wallet_transactions"
	colGrants       = "wallet_grants"
	colPrices       = "wallet_prices"
)

// compile-time interface check
var _ walletstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all wallet collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("wallet/mongo: %w: %s indexes: %w", wallet.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Balance Store ====================

func (s *Store) GetBalance(ctx context.Context, userID string) (*balance.Balance, error) {
	var m balanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, classify("get balance", err)
	}
	if m.Currency == "" && m.Amount == 0 {
		return nil, wallet.ErrWalletNotFound
	}
	return fromBalanceModel(&m), nil
}

func (s *Store) RunAtomic(ctx context.Context, userID string, fn func(ctx context.Context, u walletstore.Unit) error) error {
	client := s.mdb.Collection(colBalances).Database().Client()
	session, err := client.StartSession()
	if err != nil {
		return classify("start session", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	if err := session.StartTransaction(); err != nil {
		return classify("start transaction", err)
	}
	sctx := mongo.NewSessionContext(ctx, session)

	err = s.runUnit(sctx, userID, fn)
	if err != nil {
		_ = session.AbortTransaction(context.WithoutCancel(sctx)) //nolint:errcheck // best effort
		return err
	}
	if err := session.CommitTransaction(sctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *Store) runUnit(ctx context.Context, userID string, fn func(ctx context.Context, u walletstore.Unit) error) error {
	// Bumping the version makes concurrent units for the same user collide
	// with a write conflict, which surfaces as ErrConflict.
	var current balanceModel
	err := s.mdb.Collection(colBalances).FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$inc":         bson.M{"version": 1},
			"$setOnInsert": bson.M{"amount": int64(0), "currency": "", "txn_seq": int64(0)},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&current)
	if err != nil {
		return classify("lock balance", err)
	}

	u := &unit{s: s, userID: userID, seq: current.TxnSeq, bal: fromBalanceModel(&current)}
	if err := fn(ctx, u); err != nil {
		return err
	}
	return u.flush(ctx)
}

// ==================== Transaction Store ====================

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": txnID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, wallet.ErrTransactionNotFound
		}
		return nil, classify("get transaction", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel

	q := s.mdb.NewFind(&models).
		Filter(transactionFilter(userID, opts)).
		Sort(bson.D{{Key: "seq", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, classify("list transactions", err)
	}

	result := make([]*transaction.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func transactionFilter(userID string, opts transaction.ListOpts) bson.M {
	filter := bson.M{"user_id": userID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.ReferenceID != "" {
		filter["reference_id"] = opts.ReferenceID
	}
	if opts.ReferenceType != "" {
		filter["reference_type"] = opts.ReferenceType
	}
	if opts.Since != nil || opts.Until != nil {
		created := bson.M{}
		if opts.Since != nil {
			created["$gte"] = opts.Since.UTC()
		}
		if opts.Until != nil {
			created["$lt"] = opts.Until.UTC()
		}
		filter["created_at"] = created
	}
	return filter
}

// ==================== Grant Store ====================

func grantFilter(key access.Key) bson.M {
	return bson.M{"payer_id": key.PayerID, "resource_id": key.ResourceID, "kind": string(key.Kind)}
}

func (s *Store) GetGrant(ctx context.Context, key access.Key) (*access.Grant, error) {
	var m grantModel
	err := s.mdb.NewFind(&m).
		Filter(grantFilter(key)).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, wallet.ErrGrantNotFound
		}
		return nil, classify("get grant", err)
	}
	return fromGrantModel(&m)
}

func (s *Store) ListGrants(ctx context.Context, payerID string, opts access.ListOpts) ([]*access.Grant, error) {
	var models []grantModel

	filter := bson.M{"payer_id": payerID}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "granted_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, classify("list grants", err)
	}

	result := make([]*access.Grant, len(models))
	for i := range models {
		g, err := fromGrantModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = g
	}
	return result, nil
}

func (s *Store) CreateGrant(ctx context.Context, g *access.Grant) error {
	if _, err := s.mdb.NewInsert(toGrantModel(g)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("wallet/mongo: create grant %s: %w", g.Key, wallet.ErrGrantExists)
		}
		return classify("create grant", err)
	}
	return nil
}

// ==================== Pricing Store ====================

func (s *Store) GetPrice(ctx context.Context, serviceType string) (*pricing.ServicePrice, error) {
	var m priceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": serviceType}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, wallet.ErrPriceNotFound
		}
		return nil, classify("get price", err)
	}
	return fromPriceModel(&m)
}

func (s *Store) UpsertPrice(ctx context.Context, p *pricing.ServicePrice) error {
	m := toPriceModel(p)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ServiceType}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return classify("upsert price", err)
	}
	return nil
}

func (s *Store) DeletePrice(ctx context.Context, serviceType string) error {
	res, err := s.mdb.NewDelete((*priceModel)(nil)).
		Filter(bson.M{"_id": serviceType}).
		Exec(ctx)
	if err != nil {
		return classify("delete price", err)
	}
	if res.DeletedCount() == 0 {
		return wallet.ErrPriceNotFound
	}
	return nil
}

func (s *Store) ListPrices(ctx context.Context, opts pricing.ListOpts) ([]*pricing.ServicePrice, error) {
	var models []priceModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["is_active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, classify("list prices", err)
	}

	result := make([]*pricing.ServicePrice, len(models))
	for i := range models {
		p, err := fromPriceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Atomic unit ====================

// unit runs its reads and writes on the session context, so they join the
// surrounding multi-document transaction.
type unit struct {
	s          *Store
	userID     string
	seq        int64
	bal        *balance.Balance
	balanceSet bool
	txns       []*transaction.Transaction
	grants     []*access.Grant
}

func (u *unit) Balance() *balance.Balance {
	cp := *u.bal
	return &cp
}

func (u *unit) LookupGrant(ctx context.Context, key access.Key) (*access.Grant, bool, error) {
	for _, g := range u.grants {
		if g.Key == key {
			return g, true, nil
		}
	}
	var m grantModel
	err := u.s.mdb.Collection(colGrants).FindOne(ctx, grantFilter(key)).Decode(&m)
	if isNoDocuments(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("lookup grant", err)
	}
	g, err := fromGrantModel(&m)
	return g, err == nil, err
}

func (u *unit) LookupIdempotent(ctx context.Context, key string) (*transaction.Transaction, bool, error) {
	for _, t := range u.txns {
		if t.IdempotencyKey == key {
			return t, true, nil
		}
	}
	return u.findOne(ctx, bson.M{"user_id": u.userID, "idempotency_key": key})
}

func (u *unit) FindPayment(ctx context.Context, resourceID, referenceType string) (*transaction.Transaction, bool, error) {
	for i := len(u.txns) - 1; i >= 0; i-- {
		t := u.txns[i]
		if t.Type == transaction.TypePayment && t.Status == transaction.StatusCompleted &&
			t.ReferenceID == resourceID && t.ReferenceType == referenceType {
			return t, true, nil
		}
	}
	return u.findOne(ctx, bson.M{
		"user_id":        u.userID,
		"type":           string(transaction.TypePayment),
		"status":         string(transaction.StatusCompleted),
		"reference_id":   resourceID,
		"reference_type": referenceType,
	})
}

func (u *unit) findOne(ctx context.Context, filter bson.M) (*transaction.Transaction, bool, error) {
	var m transactionModel
	err := u.s.mdb.Collection(colTransactions).
		FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})).
		Decode(&m)
	if isNoDocuments(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("find transaction", err)
	}
	t, err := fromTransactionModel(&m)
	return t, err == nil, err
}

func (u *unit) SetBalance(b *balance.Balance) {
	cp := *b
	u.bal = &cp
	u.balanceSet = true
}

func (u *unit) AppendTransaction(t *transaction.Transaction) {
	u.txns = append(u.txns, t)
}

func (u *unit) CreateGrant(g *access.Grant) {
	u.grants = append(u.grants, g)
}

func (u *unit) flush(ctx context.Context) error {
	if len(u.txns) > 0 {
		docs := make([]any, len(u.txns))
		for i, t := range u.txns {
			u.seq++
			docs[i] = toTransactionModel(t, u.seq)
		}
		if _, err := u.s.mdb.Collection(colTransactions).InsertMany(ctx, docs); err != nil {
			return classify("insert transactions", err)
		}
	}

	if u.balanceSet || len(u.txns) > 0 {
		set := bson.M{"txn_seq": u.seq}
		if u.balanceSet {
			set["amount"] = u.bal.Amount
			set["currency"] = u.bal.Currency
			set["created_at"] = u.bal.CreatedAt.UTC()
			set["updated_at"] = u.bal.UpdatedAt.UTC()
		}
		if _, err := u.s.mdb.Collection(colBalances).UpdateOne(ctx,
			bson.M{"_id": u.userID}, bson.M{"$set": set}); err != nil {
			return classify("set balance", err)
		}
	}

	for _, g := range u.grants {
		if _, err := u.s.mdb.Collection(colGrants).InsertOne(ctx, toGrantModel(g)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("wallet/mongo: create grant %s: %w", g.Key, wallet.ErrGrantExists)
			}
			return classify("create grant", err)
		}
	}
	return nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// classify maps driver errors onto the wallet sentinels.
func classify(op string, err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("wallet/mongo: %s: %w: %w", op, wallet.ErrConflict, err)
	}
	switch {
	case errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("wallet/mongo: %s: %w: %w", op, wallet.ErrStoreClosed, err)
	case mongo.IsNetworkError(err) || mongo.IsTimeout(err):
		return fmt.Errorf("wallet/mongo: %s: %w: %w", op, wallet.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("wallet/mongo: %s: %w", op, err)
}

// migrationIndexes returns the index definitions for all wallet collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "reference_id", Value: 1}, {Key: "reference_type", Value: 1}}},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
			},
		},
		colGrants: {
			{
				Keys:    bson.D{{Key: "payer_id", Value: 1}, {Key: "resource_id", Value: 1}, {Key: "kind", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "payer_id", Value: 1}, {Key: "granted_at", Value: -1}}},
		},
		colPrices: {
			{Keys: bson.D{{Key: "is_active", Value: 1}}},
		},
	}
}
