package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/axleworks/api/internal/domain"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/repositories"
)

const purchaseOrderCollection = "purchaseOrders"

// PurchaseOrderRepository reads and updates dealer purchase orders in Firestore.
type PurchaseOrderRepository struct {
	base     *pfirestore.BaseRepository[purchaseOrderDocument]
	provider *pfirestore.Provider
}

// NewPurchaseOrderRepository constructs a Firestore-backed purchase order repository.
func NewPurchaseOrderRepository(provider *pfirestore.Provider) (*PurchaseOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("purchase order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[purchaseOrderDocument](provider, purchaseOrderCollection, nil, nil)
	return &PurchaseOrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// FindByID loads one purchase order.
func (r *PurchaseOrderRepository) FindByID(ctx context.Context, poID string) (domain.DealerPurchaseOrder, error) {
	if r == nil || r.base == nil {
		return domain.DealerPurchaseOrder{}, errors.New("purchase order repository not initialised")
	}
	id := strings.TrimSpace(poID)
	if id == "" {
		return domain.DealerPurchaseOrder{}, errors.New("purchase order repository: id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.DealerPurchaseOrder{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpdateQuantities adjusts line quantities in place inside a transaction so
// dealer pricing never changes through this path.
func (r *PurchaseOrderRepository) UpdateQuantities(ctx context.Context, poID string, quantities map[string]int) (domain.DealerPurchaseOrder, error) {
	if r == nil || r.provider == nil {
		return domain.DealerPurchaseOrder{}, errors.New("purchase order repository not initialised")
	}
	id := strings.TrimSpace(poID)
	if id == "" {
		return domain.DealerPurchaseOrder{}, errors.New("purchase order repository: id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.DealerPurchaseOrder{}, err
	}

	var updated purchaseOrderDocument
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc purchaseOrderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		for i := range doc.Lines {
			if qty, ok := quantities[doc.Lines[i].ProductID]; ok && qty > 0 {
				doc.Lines[i].Quantity = qty
			}
		}
		doc.UpdatedAt = time.Now().UTC()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return domain.DealerPurchaseOrder{}, pfirestore.WrapError("purchase_orders.update_quantities", err)
	}
	return updated.toDomain(id), nil
}

// MarkSubmitted flags the purchase order as submitted; the record itself is
// kept for dealer bookkeeping.
func (r *PurchaseOrderRepository) MarkSubmitted(ctx context.Context, poID string) error {
	if r == nil || r.base == nil {
		return errors.New("purchase order repository not initialised")
	}
	id := strings.TrimSpace(poID)
	if id == "" {
		return errors.New("purchase order repository: id is required")
	}

	now := time.Now().UTC()
	_, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "submitted", Value: true},
		{Path: "submittedAt", Value: now},
		{Path: "updatedAt", Value: now},
	})
	return err
}

type purchaseOrderDocument struct {
	DealerID    string             `firestore:"dealerId"`
	Lines       []cartLineDocument `firestore:"lines"`
	Submitted   bool               `firestore:"submitted"`
	SubmittedAt time.Time          `firestore:"submittedAt,omitempty"`
	CreatedAt   time.Time          `firestore:"createdAt"`
	UpdatedAt   time.Time          `firestore:"updatedAt"`
}

func (d purchaseOrderDocument) toDomain(id string) domain.DealerPurchaseOrder {
	return domain.DealerPurchaseOrder{
		ID:        id,
		DealerID:  strings.TrimSpace(d.DealerID),
		Lines:     decodeCartLines(d.Lines),
		CreatedAt: d.CreatedAt,
	}
}

var _ repositories.PurchaseOrderRepository = (*PurchaseOrderRepository)(nil)
