package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/axleworks/api/internal/domain"
)

type stubCouponService struct {
	apply func(ctx context.Context, code string, hint CouponHint) (CouponResult, error)
	calls int
}

func (s *stubCouponService) Apply(ctx context.Context, code string, hint CouponHint) (CouponResult, error) {
	s.calls++
	if s.apply == nil {
		return CouponResult{}, nil
	}
	return s.apply(ctx, code, hint)
}

type stubDealerDiscount struct {
	getDiscount func(ctx context.Context, userID string) (float64, error)
	calls       int
}

func (s *stubDealerDiscount) GetDiscount(ctx context.Context, userID string) (float64, error) {
	s.calls++
	if s.getDiscount == nil {
		return 0, nil
	}
	return s.getDiscount(ctx, userID)
}

func newTestEngine(t *testing.T, coupons CouponService, dealers DealerDiscountService) *DiscountEngine {
	t.Helper()
	engine, err := NewDiscountEngine(DiscountEngineDeps{Coupons: coupons, Dealers: dealers})
	if err != nil {
		t.Fatalf("NewDiscountEngine returned error: %v", err)
	}
	return engine
}

func TestApplyCouponSuccessReplacesState(t *testing.T) {
	coupons := &stubCouponService{apply: func(_ context.Context, code string, _ CouponHint) (CouponResult, error) {
		if code != "SAVE20" {
			t.Fatalf("code = %q, want normalized SAVE20", code)
		}
		return CouponResult{
			Success:       true,
			DiscountCents: 2000,
			Coupon:        &domain.Coupon{ID: "c1", Code: "SAVE20", DiscountType: domain.DiscountFixed, DiscountValue: 2000},
		}, nil
	}}
	engine := newTestEngine(t, coupons, nil)

	result, err := engine.ApplyCoupon(context.Background(), "  save20 ", CouponHint{Destination: domain.Address{State: "OH"}, SubtotalCents: 20000})
	if err != nil {
		t.Fatalf("ApplyCoupon returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got message %q", result.Message)
	}
	state := engine.State()
	if state.AppliedCoupon == nil || state.AppliedCoupon.Code != "SAVE20" {
		t.Fatalf("coupon not applied: %+v", state)
	}
	if state.CouponDiscountCents != 2000 {
		t.Fatalf("coupon discount = %d, want 2000", state.CouponDiscountCents)
	}
}

func TestApplyCouponFailureLeavesStateUntouched(t *testing.T) {
	applied := &domain.Coupon{ID: "c1", Code: "KEEP", DiscountValue: 500}
	coupons := &stubCouponService{apply: func(context.Context, string, CouponHint) (CouponResult, error) {
		return CouponResult{Success: false, Message: "expired"}, nil
	}}
	engine := newTestEngine(t, coupons, nil)
	engine.state = domain.DiscountState{AppliedCoupon: applied, CouponDiscountCents: 500}

	result, err := engine.ApplyCoupon(context.Background(), "EXPIRED", CouponHint{})
	if err != nil {
		t.Fatalf("ApplyCoupon returned error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure result")
	}
	if result.Message != "expired" {
		t.Fatalf("message = %q, want expired", result.Message)
	}
	state := engine.State()
	if state.AppliedCoupon == nil || state.AppliedCoupon.Code != "KEEP" || state.CouponDiscountCents != 500 {
		t.Fatalf("state changed on failure: %+v", state)
	}
}

func TestApplyCouponServiceErrorYieldsDisplayableMessage(t *testing.T) {
	coupons := &stubCouponService{apply: func(context.Context, string, CouponHint) (CouponResult, error) {
		return CouponResult{}, errors.New("connection refused")
	}}
	engine := newTestEngine(t, coupons, nil)

	result, err := engine.ApplyCoupon(context.Background(), "SAVE", CouponHint{})
	if err != nil {
		t.Fatalf("ApplyCoupon returned error: %v", err)
	}
	if result.Success || result.Message == "" {
		t.Fatalf("expected failure with message, got %+v", result)
	}
}

func TestApplyThenRemoveRestoresCleanState(t *testing.T) {
	coupons := &stubCouponService{apply: func(context.Context, string, CouponHint) (CouponResult, error) {
		return CouponResult{Success: true, DiscountCents: 1500, Coupon: &domain.Coupon{Code: "X"}}, nil
	}}
	engine := newTestEngine(t, coupons, nil)

	before := engine.State()
	if _, err := engine.ApplyCoupon(context.Background(), "X", CouponHint{}); err != nil {
		t.Fatalf("ApplyCoupon returned error: %v", err)
	}
	engine.RemoveCoupon()
	after := engine.State()
	if after.AppliedCoupon != nil || after.CouponDiscountCents != 0 {
		t.Fatalf("remove did not reset state: %+v", after)
	}
	if before.CouponDiscountCents != after.CouponDiscountCents {
		t.Fatalf("apply+remove drifted from initial state")
	}
}

func TestEmptyCartDropsCoupon(t *testing.T) {
	engine := newTestEngine(t, &stubCouponService{}, nil)
	engine.state = domain.DiscountState{AppliedCoupon: &domain.Coupon{Code: "X"}, CouponDiscountCents: 100}

	engine.ObserveCartLines([]domain.CartLine{{ProductID: "p"}})
	if engine.State().AppliedCoupon == nil {
		t.Fatalf("coupon dropped while cart still has lines")
	}
	engine.ObserveCartLines(nil)
	if engine.State().AppliedCoupon != nil {
		t.Fatalf("coupon survived empty cart")
	}
}

func TestFetchDealerDiscountRoleGate(t *testing.T) {
	dealers := &stubDealerDiscount{getDiscount: func(context.Context, string) (float64, error) {
		return 12.5, nil
	}}
	engine := newTestEngine(t, &stubCouponService{}, dealers)

	pct := engine.FetchDealerDiscount(context.Background(), domain.SessionSnapshot{Role: "customer", UserID: "u1"})
	if pct != 0 {
		t.Fatalf("customer role got discount %v", pct)
	}
	if dealers.calls != 0 {
		t.Fatalf("network call made for non-dealer role")
	}

	pct = engine.FetchDealerDiscount(context.Background(), domain.SessionSnapshot{Role: "dealer", UserID: "u1"})
	if pct != 12.5 {
		t.Fatalf("dealer discount = %v, want 12.5", pct)
	}
	if engine.State().DealerDiscountPct != 12.5 {
		t.Fatalf("discount not recorded in state")
	}
}

func TestFetchDealerDiscountFailSafe(t *testing.T) {
	dealers := &stubDealerDiscount{getDiscount: func(context.Context, string) (float64, error) {
		return 0, errors.New("timeout")
	}}
	engine := newTestEngine(t, &stubCouponService{}, dealers)
	engine.state.DealerDiscountPct = 20

	pct := engine.FetchDealerDiscount(context.Background(), domain.SessionSnapshot{Role: "admin", UserID: "u1"})
	if pct != 0 {
		t.Fatalf("fetch failure returned %v, want 0", pct)
	}
	if engine.State().DealerDiscountPct != 0 {
		t.Fatalf("stale discount retained after failed fetch")
	}
}
