package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/wallet/access"
	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/lock"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/transaction"
	"github.com/xraph/wallet/types"
)

type accessRequest struct {
	PayerID    string      `json:"payer_id" validate:"required,max=128"`
	ResourceID string      `json:"resource_id" validate:"required,max=256"`
	Kind       access.Kind `json:"kind" validate:"required"`
}

func (e *Engine) accessKey(payerID, resourceID string, kind access.Kind) (access.Key, error) {
	if err := validateStruct(accessRequest{PayerID: payerID, ResourceID: resourceID, Kind: kind}); err != nil {
		return access.Key{}, err
	}
	if _, ok := e.services[kind]; !ok {
		return access.Key{}, fmt.Errorf("%w: %q", ErrInvalidResourceKind, kind)
	}
	return access.Key{PayerID: payerID, ResourceID: resourceID, Kind: kind}, nil
}

// CanView reports whether payerID holds a grant for the resource.
func (e *Engine) CanView(ctx context.Context, payerID, resourceID string, kind access.Kind) (bool, error) {
	key, err := e.accessKey(payerID, resourceID, kind)
	if err != nil {
		return false, err
	}
	_, err = e.store.GetGrant(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrGrantNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ListGrants returns the grants held by payerID.
func (e *Engine) ListGrants(ctx context.Context, payerID string, opts access.ListOpts) ([]*access.Grant, error) {
	if payerID == "" {
		return nil, ValidationError{Field: "payer_id", Message: "is required"}
	}
	return e.store.ListGrants(ctx, payerID, opts)
}

type payOutcome struct {
	existing *access.Grant
	grant    *access.Grant
	txn      *transaction.Transaction
	restored bool
}

// PayToView charges payerID the effective price of the resource and grants
// access, exactly once per (payer, resource, kind). The returned result is
// never nil; on failure it carries a Code and the error is returned too.
//
// The grant re-check, the charge and the grant write share one atomic unit on
// the payer, so concurrent duplicates produce a single payment. A completed
// payment that lost its grant is repaired in place instead of charging again.
func (e *Engine) PayToView(ctx context.Context, payerID, resourceID string, kind access.Kind) (*access.PayResult, error) {
	key, err := e.accessKey(payerID, resourceID, kind)
	if err != nil {
		return failedResult(err), err
	}

	existing, err := e.store.GetGrant(ctx, key)
	switch {
	case err == nil:
		return alreadyGranted(existing), nil
	case !errors.Is(err, ErrGrantNotFound):
		return e.payFailed(key, err)
	}

	serviceType := e.services[kind]
	quote, err := e.EffectivePrice(ctx, serviceType)
	if err != nil {
		return e.payFailed(key, err)
	}

	if e.locker != nil {
		lease, err := e.locker.Obtain(ctx, "access:"+key.String(), e.lockTTL)
		switch {
		case errors.Is(err, lock.ErrNotObtained):
			// A concurrent unlock holds the key; the unit below waits on the
			// payer and re-checks the grant.
			e.logger.Debug("access lock held elsewhere", "key", key.String())
		case err != nil:
			e.logger.Warn("access lock unavailable, relying on store serialization",
				"key", key.String(),
				"error", err,
			)
		default:
			defer func() {
				if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
					e.logger.Warn("access lock release failed", "key", key.String(), "error", rerr)
				}
			}()
		}
	}

	var out payOutcome
	err = e.atomically(ctx, payerID, func(ctx context.Context, u store.Unit) error {
		out = payOutcome{}
		now := e.now()

		g, ok, err := u.LookupGrant(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			out.existing = g
			return nil
		}

		prev, ok, err := u.FindPayment(ctx, resourceID, string(kind))
		if err != nil {
			return err
		}
		if ok {
			out.grant = newGrant(key, prev.Amount, prev.ID, now)
			out.restored = true
			u.CreateGrant(out.grant)
			return nil
		}

		txn, err := e.applyCharge(u, ChargeInput{
			UserID:        payerID,
			Type:          transaction.TypePayment,
			Amount:        quote.Price,
			Description:   fmt.Sprintf("Unlock %s %s", kind, resourceID),
			ReferenceID:   resourceID,
			ReferenceType: string(kind),
			Metadata:      map[string]string{"service_type": serviceType},
		}, now)
		if err != nil {
			return err
		}
		out.txn = txn
		out.grant = newGrant(key, txn.Amount, txn.ID, now)
		u.CreateGrant(out.grant)
		return nil
	})

	if errors.Is(err, ErrGrantExists) {
		// Another writer created the grant between our re-check and commit;
		// nothing from this unit was committed.
		g, gerr := e.store.GetGrant(ctx, key)
		if gerr == nil {
			return alreadyGranted(g), nil
		}
		err = gerr
	}
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			e.plugins.EmitChargeRejected(ctx, payerID, transaction.TypePayment, quote.Price, err)
		}
		return e.payFailed(key, err)
	}

	switch {
	case out.existing != nil:
		return alreadyGranted(out.existing), nil
	case out.restored:
		e.logger.Warn("access restored from unbacked payment",
			"user_id", payerID,
			"resource_id", resourceID,
			"kind", kind,
			"transaction_id", out.grant.TransactionID.String(),
		)
		e.plugins.EmitAccessRestored(ctx, out.grant)
		return &access.PayResult{
			Success:       true,
			Message:       access.MessageRestored,
			TransactionID: out.grant.TransactionID,
			Charged:       types.Zero(out.grant.AmountPaid.Currency),
		}, nil
	}

	e.logger.Info("access granted",
		"user_id", payerID,
		"resource_id", resourceID,
		"kind", kind,
		"transaction_id", out.txn.ID.String(),
		"charged", out.txn.Amount.String(),
	)
	e.plugins.EmitTransactionCompleted(ctx, out.txn)
	e.plugins.EmitAccessGranted(ctx, out.grant)

	return &access.PayResult{
		Success:       true,
		Message:       access.MessageGranted,
		TransactionID: out.txn.ID,
		Charged:       out.txn.Amount,
	}, nil
}

func (e *Engine) payFailed(key access.Key, err error) (*access.PayResult, error) {
	res := failedResult(err)
	if res.Code == access.CodeInsufficientBalance {
		e.logger.Info("pay to view rejected",
			"user_id", key.PayerID,
			"resource_id", key.ResourceID,
			"kind", key.Kind,
			"error", err,
		)
	} else {
		e.logger.Error("pay to view failed",
			"user_id", key.PayerID,
			"resource_id", key.ResourceID,
			"kind", key.Kind,
			"error", err,
		)
	}
	return res, err
}

func newGrant(key access.Key, paid types.Money, txnID id.TransactionID, now time.Time) *access.Grant {
	return &access.Grant{
		ID:            id.NewGrantID(),
		Key:           key,
		AmountPaid:    paid,
		TransactionID: txnID,
		GrantedAt:     now,
	}
}

func alreadyGranted(g *access.Grant) *access.PayResult {
	return &access.PayResult{
		Success:       true,
		Message:       access.MessageAlreadyGranted,
		TransactionID: g.TransactionID,
		Charged:       types.Zero(g.AmountPaid.Currency),
	}
}

func failedResult(err error) *access.PayResult {
	res := &access.PayResult{Code: CodeFor(err)}
	switch res.Code {
	case access.CodeInsufficientBalance:
		res.Message = access.MessageInsufficient
		var ibe *InsufficientBalanceError
		if errors.As(err, &ibe) {
			shortfall := ibe.Shortfall
			res.Shortfall = &shortfall
			res.Message = fmt.Sprintf("%s: top up at least %s", access.MessageInsufficient, shortfall)
		}
	case access.CodeInvalidRequest:
		res.Message = access.MessageInvalid
	case access.CodeTransactionFailed:
		res.Message = access.MessageFailed
	default:
		res.Message = access.MessageUnknown
	}
	return res
}

// CodeFor classifies err into the code reported by PayToView. Store details
// never leak into the code or the message.
func CodeFor(err error) access.Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBalance):
		return access.CodeInsufficientBalance
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrStoreClosed),
		errors.Is(err, ErrPriceNotFound),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return access.CodeTransactionFailed
	case IsValidation(err):
		return access.CodeInvalidRequest
	default:
		return access.CodeUnknown
	}
}
