package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/axleworks/api/internal/domain"
)

var (
	// ErrPricingTaxResolverMissing indicates no tax resolver was supplied.
	ErrPricingTaxResolverMissing = errors.New("pricing: tax resolver is required")
	// ErrPricingTaxUnavailable indicates the tax collaborator failed.
	ErrPricingTaxUnavailable = errors.New("pricing: tax unavailable")
)

// TotalsInput bundles everything ComputeTotals consumes. The coupon discount
// is taken as-is from the discount state; it was derived at apply time and is
// not recomputed here.
type TotalsInput struct {
	Lines           []domain.CartLine
	Discounts       domain.DiscountState
	Shipping        domain.ShippingSelection
	Destination     domain.Address
	IsPurchaseOrder bool
	Currency        string
}

// ComputeTotals prices a checkout. It has no side effects beyond the tax
// lookup and is safe to call on every state change; callers needing
// memoization cache at the call site.
//
// grandTotal = subtotal + shipping + tax - (coupon + dealer). The total is
// deliberately not clamped at zero; see TotalsBreakdown.
func ComputeTotals(ctx context.Context, in TotalsInput, tax TaxResolver) (domain.TotalsBreakdown, error) {
	if tax == nil {
		return domain.TotalsBreakdown{}, ErrPricingTaxResolverMissing
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}

	var subtotal int64
	lineTotals := make([]domain.LineTotals, 0, len(in.Lines))
	for _, line := range in.Lines {
		unit := line.UnitPriceCents
		if unit < 0 {
			unit = 0
		}
		var addOns int64
		for _, a := range line.AddOns {
			if a.PriceCents > 0 {
				addOns += a.PriceCents
			}
		}
		qty := line.Quantity
		if qty < 1 {
			qty = 1
		}
		total := (unit + addOns) * int64(qty)
		subtotal += total
		lineTotals = append(lineTotals, domain.LineTotals{
			ProductID:      line.ProductID,
			Quantity:       qty,
			UnitPriceCents: unit,
			AddOnCents:     addOns,
			TotalCents:     total,
		})
	}

	// PO line prices are already dealer-priced; never discount twice.
	var dealerDiscount int64
	if !in.IsPurchaseOrder {
		dealerDiscount = domain.PercentCents(subtotal, in.Discounts.DealerDiscountPct)
	}

	couponDiscount := in.Discounts.CouponDiscountCents
	if in.Discounts.AppliedCoupon == nil || couponDiscount < 0 {
		couponDiscount = 0
	}
	combined := dealerDiscount + couponDiscount

	freeShipping := in.Discounts.AppliedCoupon != nil && in.Discounts.AppliedCoupon.FreeShipping
	shipping := in.Shipping.SelectedCostCents(freeShipping)

	taxCents, err := tax.GetTax(ctx, TaxQuery{
		SubtotalCents:    subtotal,
		DiscountCents:    combined,
		DestinationState: domain.CleanField(in.Destination.State),
		ShippingCents:    shipping,
		Lines:            in.Lines,
	})
	if err != nil {
		return domain.TotalsBreakdown{}, errors.Join(ErrPricingTaxUnavailable, err)
	}
	if taxCents < 0 {
		taxCents = 0
	}

	return domain.TotalsBreakdown{
		Currency:            currency,
		SubtotalCents:       subtotal,
		DealerDiscountCents: dealerDiscount,
		CouponDiscountCents: couponDiscount,
		ShippingCents:       shipping,
		TaxCents:            taxCents,
		GrandTotalCents:     subtotal + shipping + taxCents - combined,
		FreeShipping:        freeShipping,
		Lines:               lineTotals,
	}, nil
}
