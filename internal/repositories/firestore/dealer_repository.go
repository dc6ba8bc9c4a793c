package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/repositories"
)

const dealerCollection = "dealers"

// DealerRepository reads dealer account records from Firestore.
type DealerRepository struct {
	base *pfirestore.BaseRepository[dealerDocument]
}

// NewDealerRepository constructs a Firestore-backed dealer repository.
func NewDealerRepository(provider *pfirestore.Provider) (*DealerRepository, error) {
	if provider == nil {
		return nil, errors.New("dealer repository requires firestore provider")
	}
	return &DealerRepository{
		base: pfirestore.NewBaseRepository[dealerDocument](provider, dealerCollection, nil, nil),
	}, nil
}

// GetDiscountPercent resolves the negotiated discount percentage for a dealer.
func (r *DealerRepository) GetDiscountPercent(ctx context.Context, dealerID string) (float64, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("dealer repository not initialised")
	}
	id := strings.TrimSpace(dealerID)
	if id == "" {
		return 0, errors.New("dealer repository: dealer id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return doc.Data.DiscountPercent, nil
}

type dealerDocument struct {
	CompanyName     string  `firestore:"companyName,omitempty"`
	DiscountPercent float64 `firestore:"discountPercent"`
	Active          bool    `firestore:"active"`
}

var _ repositories.DealerRepository = (*DealerRepository)(nil)
