package domain

// TotalsBreakdown captures the aggregated monetary results of pricing a
// checkout. All amounts are cents. GrandTotal is never clamped; a discount
// exceeding subtotal+shipping+tax yields a negative total that upstream
// business rules must resolve.
type TotalsBreakdown struct {
	Currency            string
	SubtotalCents       int64
	DealerDiscountCents int64
	CouponDiscountCents int64
	ShippingCents       int64
	TaxCents            int64
	GrandTotalCents     int64
	FreeShipping        bool
	Lines               []LineTotals
}

// LineTotals stores the per-line pricing outputs.
type LineTotals struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
	AddOnCents     int64
	TotalCents     int64
}

// CombinedDiscountCents is the coupon and dealer discounts summed.
func (t TotalsBreakdown) CombinedDiscountCents() int64 {
	return t.DealerDiscountCents + t.CouponDiscountCents
}
