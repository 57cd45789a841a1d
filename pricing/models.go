package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/wallet/id"
	"github.com/xraph/wallet/types"
)

// Well-known service types.
const (
	ServiceViewSeekerProfile = "view-seeker-profile"
	ServiceViewJobDetails    = "view-job-details"
	ServiceAICVBuilder       = "ai-cv-builder"
)

var (
	errNonPositivePrice   = errors.New("price must be positive")
	errMissingCurrency    = errors.New("currency is required")
	errPercentageRange    = errors.New("offer percentage must be greater than 0 and less than 100")
	errOfferUnspecified   = errors.New("offer requires a percentage or an offer price")
	errOfferCurrency      = errors.New("offer price currency must match price currency")
	errOfferAbovePrice    = errors.New("offer price must not exceed price")
	errNonPositiveOffer   = errors.New("offer price must be positive")
	errMissingServiceType = errors.New("service type is required")
)

// ServicePrice is one catalog row, keyed by ServiceType.
type ServicePrice struct {
	types.Entity
	ID              id.PriceID          `json:"id"`
	ServiceType     string              `json:"service_type"`
	ServiceName     string              `json:"service_name"`
	Price           types.Money         `json:"price"`
	IsActive        bool                `json:"is_active"`
	HasOffer        bool                `json:"has_offer"`
	OfferPrice      types.Money         `json:"offer_price"`
	OfferPercentage decimal.NullDecimal `json:"offer_percentage"`
	OfferValidUntil *time.Time          `json:"offer_valid_until,omitempty"`
	Description     string              `json:"description,omitempty"`
}

// PriceOptions carries the optional attributes of a SetPrice call.
// A nil IsActive leaves the flag unchanged. OfferPrice is ignored whenever
// OfferPercentage is set.
type PriceOptions struct {
	ServiceName     string
	Description     string
	IsActive        *bool
	HasOffer        bool
	OfferPrice      *types.Money
	OfferPercentage decimal.NullDecimal
	OfferValidUntil *time.Time
}

// Quote is the effective price of a service at one instant.
type Quote struct {
	ServiceType     string       `json:"service_type"`
	Price           types.Money  `json:"price"`
	HasOffer        bool         `json:"has_offer"`
	OriginalPrice   *types.Money `json:"original_price,omitempty"`
	OfferValidUntil *time.Time   `json:"offer_valid_until,omitempty"`
	Fallback        bool         `json:"fallback"`
}

// Apply writes price and opts onto p and restores the offer invariant:
// a percentage offer always has OfferPrice == Price.PercentOff(pct).
func (p *ServicePrice) Apply(serviceType string, price types.Money, opts PriceOptions) error {
	if serviceType == "" {
		return errMissingServiceType
	}
	price.Currency = types.NormalizeCurrency(price.Currency)
	if price.Currency == "" {
		return errMissingCurrency
	}
	if !price.IsPositive() {
		return errNonPositivePrice
	}

	p.ServiceType = serviceType
	p.Price = price
	if opts.ServiceName != "" {
		p.ServiceName = opts.ServiceName
	}
	if p.ServiceName == "" {
		p.ServiceName = serviceType
	}
	if opts.Description != "" {
		p.Description = opts.Description
	}
	if opts.IsActive != nil {
		p.IsActive = *opts.IsActive
	}

	if !opts.HasOffer {
		p.clearOffer()
		return nil
	}

	switch {
	case opts.OfferPercentage.Valid:
		pct := opts.OfferPercentage.Decimal
		if !pct.IsPositive() || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return errPercentageRange
		}
		p.OfferPercentage = decimal.NewNullDecimal(pct)
		p.OfferPrice = price.PercentOff(pct)
		if !p.OfferPrice.IsPositive() {
			return errNonPositiveOffer
		}
	case opts.OfferPrice != nil:
		offer := *opts.OfferPrice
		offer.Currency = types.NormalizeCurrency(offer.Currency)
		if offer.Currency != price.Currency {
			return errOfferCurrency
		}
		if !offer.IsPositive() {
			return errNonPositiveOffer
		}
		if offer.Amount > price.Amount {
			return errOfferAbovePrice
		}
		p.OfferPercentage = decimal.NullDecimal{}
		p.OfferPrice = offer
	default:
		return errOfferUnspecified
	}

	p.HasOffer = true
	p.OfferValidUntil = opts.OfferValidUntil
	return nil
}

func (p *ServicePrice) clearOffer() {
	p.HasOffer = false
	p.OfferPrice = types.Money{}
	p.OfferPercentage = decimal.NullDecimal{}
	p.OfferValidUntil = nil
}

// OfferValid reports whether the row carries an offer that is still valid at now.
// An offer without expiry never lapses.
func (p *ServicePrice) OfferValid(now time.Time) bool {
	if !p.HasOffer {
		return false
	}
	return p.OfferValidUntil == nil || p.OfferValidUntil.After(now)
}

// Quote returns the effective price of the row at now.
func (p *ServicePrice) Quote(now time.Time) *Quote {
	q := &Quote{ServiceType: p.ServiceType, Price: p.Price}
	if p.OfferValid(now) {
		original := p.Price
		q.Price = p.OfferPrice
		q.HasOffer = true
		q.OriginalPrice = &original
		q.OfferValidUntil = p.OfferValidUntil
	}
	return q
}

// Validate checks a row loaded from storage or built by hand.
func (p *ServicePrice) Validate() error {
	if p.ServiceType == "" {
		return errMissingServiceType
	}
	if p.Price.Currency == "" {
		return errMissingCurrency
	}
	if !p.Price.IsPositive() {
		return errNonPositivePrice
	}
	if p.HasOffer && p.OfferPrice.Currency != p.Price.Currency {
		return fmt.Errorf("%w: %s != %s", errOfferCurrency, p.OfferPrice.Currency, p.Price.Currency)
	}
	return nil
}

// FallbackQuote builds the quote used when no active row exists.
func FallbackQuote(serviceType string, price types.Money) *Quote {
	return &Quote{ServiceType: serviceType, Price: price, Fallback: true}
}

// DefaultFallbacks returns the built-in prices used before the catalog is configured.
func DefaultFallbacks() map[string]types.Money {
	return map[string]types.Money{
		ServiceViewSeekerProfile: types.EGP(2000),
		ServiceViewJobDetails:    types.EGP(1000),
		ServiceAICVBuilder:       types.EGP(3000),
	}
}
