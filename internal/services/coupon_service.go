package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
)

var errCouponRepositoryRequired = errors.New("coupon service: repository is required")

// ErrCouponUnavailable indicates the coupon backend could not be reached.
var ErrCouponUnavailable = errors.New("coupon service: unavailable")

// States outside the contiguous US for lower-48 restricted coupons.
var nonLower48States = map[string]bool{
	"AK": true,
	"HI": true,
	"PR": true,
	"GU": true,
	"VI": true,
	"AS": true,
	"MP": true,
}

// CouponServiceDeps wires the repository and clock behind coupon validation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService constructs the repository-backed coupon validator.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errCouponRepositoryRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons: deps.Coupons,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Apply looks up the code and checks every restriction against the hint.
// Failed checks return Success=false with a displayable message; only backend
// faults surface as errors.
func (s *couponService) Apply(ctx context.Context, code string, hint CouponHint) (CouponResult, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return CouponResult{Success: false, Message: "Please enter a coupon code."}, nil
	}

	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		if isRepoNotFound(err) {
			return CouponResult{Success: false, Message: "That coupon code is not valid."}, nil
		}
		return CouponResult{}, errors.Join(ErrCouponUnavailable, err)
	}

	now := s.now()
	switch {
	case !coupon.Active:
		return CouponResult{Success: false, Message: "That coupon is no longer active."}, nil
	case !coupon.StartsAt.IsZero() && now.Before(coupon.StartsAt):
		return CouponResult{Success: false, Message: "That coupon is not active yet."}, nil
	case !coupon.ExpiresAt.IsZero() && now.After(coupon.ExpiresAt):
		return CouponResult{Success: false, Message: "That coupon has expired."}, nil
	}

	if coupon.Lower48Only && !destinationInLower48(hint.Destination) {
		return CouponResult{Success: false, Message: "That coupon is only valid for the contiguous United States."}, nil
	}

	if coupon.MinSubtotalCents > 0 && hint.SubtotalCents < coupon.MinSubtotalCents {
		return CouponResult{
			Success: false,
			Message: "Your order does not meet the minimum of " + domain.FormatCents(coupon.MinSubtotalCents) + " for that coupon.",
		}, nil
	}

	discount := couponDiscountCents(coupon, hint.SubtotalCents)
	result := CouponResult{
		Success:       true,
		DiscountCents: discount,
		Coupon:        &coupon,
	}
	return result, nil
}

func couponDiscountCents(coupon domain.Coupon, subtotalCents int64) int64 {
	switch coupon.DiscountType {
	case domain.DiscountPercentage:
		return domain.PercentCents(subtotalCents, float64(coupon.DiscountValue))
	case domain.DiscountFixed:
		if coupon.DiscountValue < 0 {
			return 0
		}
		return coupon.DiscountValue
	default:
		return 0
	}
}

func destinationInLower48(dest domain.Address) bool {
	n := dest.Normalize()
	country := strings.ToUpper(n.Country)
	if country != "" && country != "US" && country != "USA" {
		return false
	}
	state := strings.ToUpper(n.State)
	if state == "" {
		// Restriction cannot be evaluated before an address exists; accept
		// and let checkout re-validate once the destination is known.
		return true
	}
	return !nonLower48States[state]
}
