package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/axleworks/api/internal/domain"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository stores coupon definitions in Firestore, queried by their
// uppercase code.
type CouponRepository struct {
	base     *pfirestore.BaseRepository[couponDocument]
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil)
	return &CouponRepository{
		base:     base,
		provider: provider,
	}, nil
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.WrapError("coupons.find_by_code",
			status.Error(codes.NotFound, "coupon not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Upsert writes the coupon definition.
func (r *CouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(coupon.ID)
	if id == "" {
		return domain.Coupon{}, errors.New("coupon repository: id is required")
	}

	doc := couponDocument{
		Code:             strings.ToUpper(strings.TrimSpace(coupon.Code)),
		Name:             strings.TrimSpace(coupon.Name),
		DiscountType:     string(coupon.DiscountType),
		DiscountValue:    coupon.DiscountValue,
		FreeShipping:     coupon.FreeShipping,
		Lower48Only:      coupon.Lower48Only,
		MinSubtotalCents: coupon.MinSubtotalCents,
		Active:           coupon.Active,
		StartsAt:         coupon.StartsAt.UTC(),
		ExpiresAt:        coupon.ExpiresAt.UTC(),
	}
	if doc.Code == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.Coupon{}, err
	}
	return doc.toDomain(id), nil
}

// Delete removes the coupon definition.
func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(couponID)
	if id == "" {
		return errors.New("coupon repository: id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

type couponDocument struct {
	Code             string    `firestore:"code"`
	Name             string    `firestore:"name,omitempty"`
	DiscountType     string    `firestore:"discountType"`
	DiscountValue    int64     `firestore:"discountValue"`
	FreeShipping     bool      `firestore:"freeShipping,omitempty"`
	Lower48Only      bool      `firestore:"lower48Only,omitempty"`
	MinSubtotalCents int64     `firestore:"minSubtotalCents,omitempty"`
	Active           bool      `firestore:"active"`
	StartsAt         time.Time `firestore:"startsAt,omitempty"`
	ExpiresAt        time.Time `firestore:"expiresAt,omitempty"`
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:               id,
		Code:             d.Code,
		Name:             d.Name,
		DiscountType:     domain.DiscountType(d.DiscountType),
		DiscountValue:    d.DiscountValue,
		FreeShipping:     d.FreeShipping,
		Lower48Only:      d.Lower48Only,
		MinSubtotalCents: d.MinSubtotalCents,
		Active:           d.Active,
		StartsAt:         d.StartsAt,
		ExpiresAt:        d.ExpiresAt,
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
