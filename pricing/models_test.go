package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/wallet/types"
)

func pct(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestApply(t *testing.T) {
	offer := types.EGP(700)
	usdOffer := types.USD(700)
	zeroOffer := types.EGP(0)

	tests := []struct {
		name      string
		price     types.Money
		opts      PriceOptions
		wantErr   error
		wantOffer types.Money
	}{
		{"plain price", types.EGP(1000), PriceOptions{}, nil, types.Money{}},
		{"percentage", types.EGP(1000), PriceOptions{HasOffer: true, OfferPercentage: pct("25")}, nil, types.EGP(750)},
		{"fractional percentage rounds", types.EGP(999), PriceOptions{HasOffer: true, OfferPercentage: pct("12.5")}, nil, types.EGP(874)},
		{"fixed offer", types.EGP(1000), PriceOptions{HasOffer: true, OfferPrice: &offer}, nil, types.EGP(700)},
		{"percentage wins over fixed", types.EGP(1000), PriceOptions{HasOffer: true, OfferPercentage: pct("50"), OfferPrice: &offer}, nil, types.EGP(500)},
		{"zero percentage", types.EGP(1000), PriceOptions{HasOffer: true, OfferPercentage: pct("0")}, errPercentageRange, types.Money{}},
		{"hundred percent", types.EGP(1000), PriceOptions{HasOffer: true, OfferPercentage: pct("100")}, errPercentageRange, types.Money{}},
		{"offer currency", types.EGP(1000), PriceOptions{HasOffer: true, OfferPrice: &usdOffer}, errOfferCurrency, types.Money{}},
		{"zero offer", types.EGP(1000), PriceOptions{HasOffer: true, OfferPrice: &zeroOffer}, errNonPositiveOffer, types.Money{}},
		{"offer above price", types.EGP(500), PriceOptions{HasOffer: true, OfferPrice: &offer}, errOfferAbovePrice, types.Money{}},
		{"offer unspecified", types.EGP(1000), PriceOptions{HasOffer: true}, errOfferUnspecified, types.Money{}},
		{"non-positive price", types.EGP(0), PriceOptions{}, errNonPositivePrice, types.Money{}},
		{"missing currency", types.Money{Amount: 10}, PriceOptions{}, errMissingCurrency, types.Money{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ServicePrice
			err := p.Apply("svc", tt.price, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !p.OfferPrice.Equal(tt.wantOffer) {
				t.Errorf("offer: got %v, want %v", p.OfferPrice, tt.wantOffer)
			}
			if p.HasOffer != tt.opts.HasOffer {
				t.Errorf("HasOffer: got %v", p.HasOffer)
			}
			if err := p.Validate(); err != nil {
				t.Errorf("Validate after Apply: %v", err)
			}
		})
	}
}

func TestApplyKeepsAttributes(t *testing.T) {
	active := false
	p := ServicePrice{ServiceName: "Job details", Description: "unlock a job", IsActive: true}

	if err := p.Apply("view-job-details", types.Money{Amount: 1000, Currency: "EGP"}, PriceOptions{IsActive: &active}); err != nil {
		t.Fatal(err)
	}
	if p.ServiceName != "Job details" || p.Description != "unlock a job" {
		t.Errorf("attributes overwritten: %+v", p)
	}
	if p.IsActive {
		t.Error("IsActive option ignored")
	}
	if p.Price.Currency != "egp" {
		t.Errorf("currency not normalized: %q", p.Price.Currency)
	}

	var fresh ServicePrice
	if err := fresh.Apply("ai-cv-builder", types.EGP(100), PriceOptions{}); err != nil {
		t.Fatal(err)
	}
	if fresh.ServiceName != "ai-cv-builder" {
		t.Errorf("default name: got %q", fresh.ServiceName)
	}
}

func TestQuote(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name      string
		validTill *time.Time
		hasOffer  bool
		want      types.Money
	}{
		{"no offer", nil, false, types.EGP(1000)},
		{"open-ended offer", nil, true, types.EGP(800)},
		{"valid offer", &later, true, types.EGP(800)},
		{"expired offer", &earlier, true, types.EGP(1000)},
		{"expires exactly now", &now, true, types.EGP(1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ServicePrice{
				ServiceType:     "svc",
				Price:           types.EGP(1000),
				HasOffer:        tt.hasOffer,
				OfferPrice:      types.EGP(800),
				OfferValidUntil: tt.validTill,
			}
			q := p.Quote(now)
			if !q.Price.Equal(tt.want) {
				t.Errorf("price: got %v, want %v", q.Price, tt.want)
			}
			applied := !tt.want.Equal(types.EGP(1000))
			if q.HasOffer != applied {
				t.Errorf("HasOffer: got %v, want %v", q.HasOffer, applied)
			}
			if applied && (q.OriginalPrice == nil || !q.OriginalPrice.Equal(types.EGP(1000))) {
				t.Errorf("original price: got %v", q.OriginalPrice)
			}
			if q.Fallback {
				t.Error("catalog quote marked as fallback")
			}
		})
	}
}

func TestFallbackQuote(t *testing.T) {
	q := FallbackQuote(ServiceViewJobDetails, DefaultFallbacks()[ServiceViewJobDetails])
	if !q.Fallback || q.HasOffer || !q.Price.Equal(types.EGP(1000)) {
		t.Errorf("got %+v", q)
	}
}
