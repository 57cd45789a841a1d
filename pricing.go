package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/types"
)

// EffectivePrice returns what serviceType costs right now. A missing or
// inactive catalog row falls back to the configured default; an expired
// offer is ignored. Store failures other than absence are returned as-is.
func (e *Engine) EffectivePrice(ctx context.Context, serviceType string) (*pricing.Quote, error) {
	if serviceType == "" {
		return nil, ValidationError{Field: "service_type", Message: "is required"}
	}

	p, err := e.store.GetPrice(ctx, serviceType)
	switch {
	case err == nil && p.IsActive:
		return p.Quote(e.now()), nil
	case err == nil, errors.Is(err, ErrPriceNotFound):
	default:
		return nil, err
	}

	fallback, ok := e.fallbacks[serviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, serviceType)
	}
	e.logger.Debug("using fallback price",
		"service_type", serviceType,
		"price", fallback.String(),
	)
	return pricing.FallbackQuote(serviceType, fallback), nil
}

// SetPrice creates or updates the catalog row for serviceType. A percentage
// offer always has its offer price recomputed from price; clearing HasOffer
// clears every offer field.
func (e *Engine) SetPrice(ctx context.Context, serviceType string, price types.Money, opts pricing.PriceOptions) (*pricing.ServicePrice, error) {
	now := e.now()

	p, err := e.store.GetPrice(ctx, serviceType)
	switch {
	case errors.Is(err, ErrPriceNotFound):
		p = &pricing.ServicePrice{
			Entity:   types.NewEntityAt(now),
			ID:       id.NewPriceID(),
			IsActive: true,
		}
	case err != nil:
		return nil, err
	default:
		cp := *p
		p = &cp
	}

	if err := p.Apply(serviceType, price, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPricing, err)
	}
	p.Touch(now)

	if err := e.store.UpsertPrice(ctx, p); err != nil {
		return nil, err
	}

	e.logger.Info("price set",
		"service_type", serviceType,
		"price", p.Price.String(),
		"has_offer", p.HasOffer,
		"active", p.IsActive,
	)
	e.plugins.EmitPriceChanged(ctx, p)
	return p, nil
}

// GetPrice returns the stored catalog row without applying offers or fallbacks.
func (e *Engine) GetPrice(ctx context.Context, serviceType string) (*pricing.ServicePrice, error) {
	return e.store.GetPrice(ctx, serviceType)
}

// ListPrices returns the catalog ordered by service type.
func (e *Engine) ListPrices(ctx context.Context, opts pricing.ListOpts) ([]*pricing.ServicePrice, error) {
	return e.store.ListPrices(ctx, opts)
}

// DeletePrice removes the row for serviceType. Later quotes use the fallback.
func (e *Engine) DeletePrice(ctx context.Context, serviceType string) error {
	if err := e.store.DeletePrice(ctx, serviceType); err != nil {
		return err
	}
	e.logger.Info("price deleted", "service_type", serviceType)
	e.plugins.EmitPriceDeleted(ctx, serviceType)
	return nil
}

// ToggleActive flips the active flag of serviceType and returns the new row.
func (e *Engine) ToggleActive(ctx context.Context, serviceType string) (*pricing.ServicePrice, error) {
	p, err := e.store.GetPrice(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	cp := *p
	cp.IsActive = !cp.IsActive
	cp.Touch(e.now())

	if err := e.store.UpsertPrice(ctx, &cp); err != nil {
		return nil, err
	}
	e.plugins.EmitPriceChanged(ctx, &cp)
	return &cp, nil
}
