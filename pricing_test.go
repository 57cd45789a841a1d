package wallet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/wallet"
	"github.com/xraph/wallet/pricing"
	"github.com/xraph/wallet/store"
	"github.com/xraph/wallet/store/memory"
	"github.com/xraph/wallet/types"
)

func pct(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func TestEffectivePriceFallback(t *testing.T) {
	eng := newEngine(t, memory.New())

	q, err := eng.EffectivePrice(context.Background(), pricing.ServiceViewSeekerProfile)
	if err != nil {
		t.Fatalf("EffectivePrice: %v", err)
	}
	if !q.Fallback || !q.Price.Equal(types.EGP(2000)) {
		t.Errorf("got %+v, want fallback E£20.00", q)
	}

	if _, err := eng.EffectivePrice(context.Background(), "unknown-service"); !errors.Is(err, wallet.ErrPriceNotFound) {
		t.Errorf("unknown service: got %v, want ErrPriceNotFound", err)
	}
	if _, err := eng.EffectivePrice(context.Background(), ""); !wallet.IsValidation(err) {
		t.Errorf("empty service: got %v, want validation error", err)
	}
}

func TestSetPriceOffers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		clk := newClock()
		rec := &recorder{}
		eng := newEngine(t, s, wallet.WithClock(clk.Now), wallet.WithPlugin(rec))
		ctx := context.Background()
		until := epoch.Add(time.Hour)

		p, err := eng.SetPrice(ctx, pricing.ServiceAICVBuilder, types.EGP(2000), pricing.PriceOptions{
			ServiceName:     "AI CV builder",
			HasOffer:        true,
			OfferPercentage: pct(25),
			OfferValidUntil: &until,
		})
		if err != nil {
			t.Fatalf("SetPrice: %v", err)
		}
		if !p.OfferPrice.Equal(types.EGP(1500)) || !p.IsActive {
			t.Errorf("got offer %v active=%v, want E£15.00 active", p.OfferPrice, p.IsActive)
		}

		q, err := eng.EffectivePrice(ctx, pricing.ServiceAICVBuilder)
		if err != nil {
			t.Fatal(err)
		}
		if !q.HasOffer || !q.Price.Equal(types.EGP(1500)) || q.OriginalPrice == nil || !q.OriginalPrice.Equal(types.EGP(2000)) {
			t.Errorf("quote with offer: got %+v", q)
		}

		// Repricing keeps the percentage and recomputes the offer price.
		updated, err := eng.SetPrice(ctx, pricing.ServiceAICVBuilder, types.EGP(4000), pricing.PriceOptions{
			HasOffer:        true,
			OfferPercentage: pct(25),
			OfferValidUntil: &until,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !updated.OfferPrice.Equal(types.EGP(3000)) {
			t.Errorf("recomputed offer: got %v, want E£30.00", updated.OfferPrice)
		}
		if updated.ID.String() != p.ID.String() {
			t.Errorf("update changed id: %s != %s", updated.ID, p.ID)
		}
		if updated.ServiceName != "AI CV builder" {
			t.Errorf("service name lost: %q", updated.ServiceName)
		}

		clk.Advance(2 * time.Hour)
		q, err = eng.EffectivePrice(ctx, pricing.ServiceAICVBuilder)
		if err != nil {
			t.Fatal(err)
		}
		if q.HasOffer || !q.Price.Equal(types.EGP(4000)) {
			t.Errorf("expired offer still applied: %+v", q)
		}

		cleared, err := eng.SetPrice(ctx, pricing.ServiceAICVBuilder, types.EGP(4000), pricing.PriceOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if cleared.HasOffer || cleared.OfferPercentage.Valid || cleared.OfferValidUntil != nil || !cleared.OfferPrice.IsZero() {
			t.Errorf("offer not cleared: %+v", cleared)
		}

		if len(rec.priced) != 3 {
			t.Errorf("price hooks: got %d, want 3", len(rec.priced))
		}
	})
}

func TestSetPriceRejectsInvalidPricing(t *testing.T) {
	eng := newEngine(t, memory.New())
	offer := types.EGP(5000)

	tests := []struct {
		name  string
		price types.Money
		opts  pricing.PriceOptions
	}{
		{"zero price", types.EGP(0), pricing.PriceOptions{}},
		{"no currency", types.Money{Amount: 100}, pricing.PriceOptions{}},
		{"percentage of 100", types.EGP(1000), pricing.PriceOptions{HasOffer: true, OfferPercentage: pct(100)}},
		{"offer above price", types.EGP(1000), pricing.PriceOptions{HasOffer: true, OfferPrice: &offer}},
		{"offer without terms", types.EGP(1000), pricing.PriceOptions{HasOffer: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.SetPrice(context.Background(), "svc", tt.price, tt.opts)
			if !errors.Is(err, wallet.ErrInvalidPricing) {
				t.Fatalf("got %v, want ErrInvalidPricing", err)
			}
		})
	}

	if _, err := eng.GetPrice(context.Background(), "svc"); !errors.Is(err, wallet.ErrPriceNotFound) {
		t.Errorf("invalid price was stored: %v", err)
	}
}

func TestToggleAndDeletePrice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		rec := &recorder{}
		eng := newEngine(t, s, wallet.WithPlugin(rec))
		ctx := context.Background()

		if _, err := eng.SetPrice(ctx, pricing.ServiceViewJobDetails, types.EGP(3000), pricing.PriceOptions{}); err != nil {
			t.Fatal(err)
		}

		p, err := eng.ToggleActive(ctx, pricing.ServiceViewJobDetails)
		if err != nil {
			t.Fatal(err)
		}
		if p.IsActive {
			t.Fatal("toggle did not deactivate")
		}
		q, err := eng.EffectivePrice(ctx, pricing.ServiceViewJobDetails)
		if err != nil {
			t.Fatal(err)
		}
		if !q.Fallback || !q.Price.Equal(types.EGP(1000)) {
			t.Errorf("inactive row should fall back: %+v", q)
		}

		if _, err := eng.ToggleActive(ctx, pricing.ServiceViewJobDetails); err != nil {
			t.Fatal(err)
		}
		q, err = eng.EffectivePrice(ctx, pricing.ServiceViewJobDetails)
		if err != nil {
			t.Fatal(err)
		}
		if q.Fallback || !q.Price.Equal(types.EGP(3000)) {
			t.Errorf("reactivated row: %+v", q)
		}

		if err := eng.DeletePrice(ctx, pricing.ServiceViewJobDetails); err != nil {
			t.Fatalf("DeletePrice: %v", err)
		}
		if err := eng.DeletePrice(ctx, pricing.ServiceViewJobDetails); !errors.Is(err, wallet.ErrPriceNotFound) {
			t.Errorf("second delete: got %v, want ErrPriceNotFound", err)
		}
		if _, err := eng.ToggleActive(ctx, pricing.ServiceViewJobDetails); !errors.Is(err, wallet.ErrPriceNotFound) {
			t.Errorf("toggle missing: got %v, want ErrPriceNotFound", err)
		}
		if len(rec.deleted) != 1 {
			t.Errorf("delete hooks: got %d, want 1", len(rec.deleted))
		}
	})
}

func TestListPrices(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s store.Store) {
		eng := newEngine(t, s)
		ctx := context.Background()

		for _, svc := range []string{"c-svc", "a-svc", "b-svc"} {
			if _, err := eng.SetPrice(ctx, svc, types.EGP(100), pricing.PriceOptions{}); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := eng.ToggleActive(ctx, "b-svc"); err != nil {
			t.Fatal(err)
		}

		all, err := eng.ListPrices(ctx, pricing.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 || all[0].ServiceType != "a-svc" || all[2].ServiceType != "c-svc" {
			t.Errorf("all prices: got %d rows", len(all))
		}

		active, err := eng.ListPrices(ctx, pricing.ListOpts{ActiveOnly: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != 2 {
			t.Errorf("active prices: got %d, want 2", len(active))
		}
	})
}
