package services

import (
	"context"
	"errors"
	"strings"

	"github.com/axleworks/api/internal/repositories"
)

var errDealerRepositoryRequired = errors.New("dealer discounts: repository is required")

// ErrDealerDiscountUnavailable indicates the dealer record could not be read.
var ErrDealerDiscountUnavailable = errors.New("dealer discounts: unavailable")

// DealerDiscountServiceDeps wires the dealer repository.
type DealerDiscountServiceDeps struct {
	Dealers repositories.DealerRepository
}

type dealerDiscountService struct {
	dealers repositories.DealerRepository
}

// NewDealerDiscountService constructs the repository-backed discount lookup.
func NewDealerDiscountService(deps DealerDiscountServiceDeps) (DealerDiscountService, error) {
	if deps.Dealers == nil {
		return nil, errDealerRepositoryRequired
	}
	return &dealerDiscountService{dealers: deps.Dealers}, nil
}

// GetDiscount resolves the negotiated percentage for the dealer. Missing
// dealer records resolve to 0 rather than an error; only backend faults fail.
func (s *dealerDiscountService) GetDiscount(ctx context.Context, userID string) (float64, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return 0, nil
	}

	pct, err := s.dealers.GetDiscountPercent(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return 0, nil
		}
		return 0, errors.Join(ErrDealerDiscountUnavailable, err)
	}
	if pct < 0 {
		return 0, nil
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}
