package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	domain "github.com/axleworks/api/internal/domain"
)

var (
	// ErrDiscountCouponServiceMissing indicates no coupon service was supplied.
	ErrDiscountCouponServiceMissing = errors.New("discounts: coupon service is required")
	// ErrDiscountInvalidCode indicates an empty or malformed coupon code.
	ErrDiscountInvalidCode = errors.New("discounts: invalid coupon code")
)

const couponUnavailableMessage = "We could not verify that coupon right now. Please try again."

// DiscountEngineDeps bundles the collaborators behind a DiscountEngine.
type DiscountEngineDeps struct {
	Coupons CouponService
	Dealers DealerDiscountService
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// DiscountEngine owns the coupon and dealer-discount state for one checkout.
// The coupon amount is derived once at apply time; removal zeroes it
// atomically. The engine is the value object the pricing calculator reads.
type DiscountEngine struct {
	mu      sync.Mutex
	coupons CouponService
	dealers DealerDiscountService
	logger  func(ctx context.Context, event string, fields map[string]any)
	state   domain.DiscountState
}

// NewDiscountEngine constructs a DiscountEngine validating required dependencies.
func NewDiscountEngine(deps DiscountEngineDeps) (*DiscountEngine, error) {
	if deps.Coupons == nil {
		return nil, ErrDiscountCouponServiceMissing
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DiscountEngine{
		coupons: deps.Coupons,
		dealers: deps.Dealers,
		logger:  logger,
	}, nil
}

// ApplyCoupon validates the code remotely and, on success, replaces the
// applied coupon and its derived amount in one step. On failure the previous
// state is untouched and the result carries a displayable message.
func (e *DiscountEngine) ApplyCoupon(ctx context.Context, code string, hint CouponHint) (CouponResult, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return CouponResult{}, ErrDiscountInvalidCode
	}

	hint.Destination = hint.Destination.Normalize()
	result, err := e.coupons.Apply(ctx, normalized, hint)
	if err != nil {
		e.logger(ctx, "discounts.coupon_apply_failed", map[string]any{
			"code":  normalized,
			"error": err.Error(),
		})
		return CouponResult{Success: false, Message: couponUnavailableMessage}, nil
	}
	if !result.Success {
		if strings.TrimSpace(result.Message) == "" {
			result.Message = "That coupon code is not valid."
		}
		return result, nil
	}
	if result.Coupon == nil {
		return CouponResult{Success: false, Message: couponUnavailableMessage}, nil
	}

	e.mu.Lock()
	coupon := *result.Coupon
	e.state.AppliedCoupon = &coupon
	e.state.CouponDiscountCents = result.DiscountCents
	if e.state.CouponDiscountCents < 0 {
		e.state.CouponDiscountCents = 0
	}
	e.mu.Unlock()

	return result, nil
}

// RemoveCoupon clears the applied coupon and its amount unconditionally.
func (e *DiscountEngine) RemoveCoupon() {
	e.mu.Lock()
	e.state.AppliedCoupon = nil
	e.state.CouponDiscountCents = 0
	e.mu.Unlock()
}

// ObserveCartLines drops the coupon whenever the cart has emptied.
func (e *DiscountEngine) ObserveCartLines(lines []domain.CartLine) {
	if len(lines) == 0 {
		e.RemoveCoupon()
	}
}

// FetchDealerDiscount resolves the dealer percentage for the session. Roles
// other than dealer/admin force 0 without a network call; fetch failures also
// resolve to 0.
func (e *DiscountEngine) FetchDealerDiscount(ctx context.Context, session domain.SessionSnapshot) float64 {
	role := strings.ToLower(strings.TrimSpace(session.Role))
	if role != domain.RoleDealer && role != domain.RoleAdmin {
		e.setDealerDiscount(0, "")
		return 0
	}
	if e.dealers == nil {
		e.setDealerDiscount(0, "")
		return 0
	}

	pct, err := e.dealers.GetDiscount(ctx, session.UserID)
	if err != nil || pct < 0 {
		if err != nil {
			e.logger(ctx, "discounts.dealer_fetch_failed", map[string]any{
				"user_id": session.UserID,
				"error":   err.Error(),
			})
		}
		e.setDealerDiscount(0, "")
		return 0
	}
	e.setDealerDiscount(pct, session.UserID)
	return pct
}

func (e *DiscountEngine) setDealerDiscount(pct float64, userID string) {
	e.mu.Lock()
	e.state.DealerDiscountPct = pct
	e.state.DealerDiscountUserID = userID
	e.mu.Unlock()
}

// State returns a copy of the current discount state.
func (e *DiscountEngine) State() domain.DiscountState {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.state
	if e.state.AppliedCoupon != nil {
		coupon := *e.state.AppliedCoupon
		state.AppliedCoupon = &coupon
	}
	return state
}
