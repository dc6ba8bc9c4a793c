package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists shopping carts within Firestore, one document per
// user keyed by user ID.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// GetCart loads the cart document for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.UpdateTime), nil
}

// SaveCart writes the whole cart document, replacing any stored line set.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cart.UserID)
	if cartID == "" {
		cartID = strings.TrimSpace(cart.ID)
	}
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	doc := cartDocument{
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Lines:     encodeCartLines(cart.Lines),
		UpdatedAt: updatedAt,
	}

	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(cartID, result.UpdateTime), nil
}

// DeleteCart removes the cart document.
func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

type cartDocument struct {
	Currency  string             `firestore:"currency"`
	Lines     []cartLineDocument `firestore:"lines"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID      string               `firestore:"productId"`
	Name           string               `firestore:"name"`
	PartNumber     string               `firestore:"partNumber,omitempty"`
	UnitPriceCents int64                `firestore:"unitPriceCents"`
	Quantity       int                  `firestore:"quantity"`
	AddOns         []cartAddOnDocument  `firestore:"addOns,omitempty"`
	Variant        *cartVariantDocument `firestore:"variant,omitempty"`
	WeightLbs      float64              `firestore:"weightLbs,omitempty"`
	Length         float64              `firestore:"length,omitempty"`
	Width          float64              `firestore:"width,omitempty"`
	Height         float64              `firestore:"height,omitempty"`
	Manufacturer   string               `firestore:"manufacturer,omitempty"`
	PlatformLabel  string               `firestore:"platformLabel,omitempty"`
	YearRange      string               `firestore:"yearRange,omitempty"`
	ImageRef       string               `firestore:"imageRef,omitempty"`
}

type cartAddOnDocument struct {
	Kind       string `firestore:"kind"`
	Name       string `firestore:"name"`
	PriceCents int64  `firestore:"priceCents"`
}

type cartVariantDocument struct {
	ColorID   string `firestore:"colorId,omitempty"`
	ColorName string `firestore:"colorName,omitempty"`
	Size      string `firestore:"size,omitempty"`
}

func (d cartDocument) toDomain(id string, updateTime time.Time) domain.Cart {
	updatedAt := updateTime
	if updatedAt.IsZero() {
		updatedAt = d.UpdatedAt
	}
	return domain.Cart{
		ID:        id,
		UserID:    id,
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		Lines:     decodeCartLines(d.Lines),
		UpdatedAt: updatedAt,
	}
}

func encodeCartLines(lines []domain.CartLine) []cartLineDocument {
	docs := make([]cartLineDocument, 0, len(lines))
	for _, line := range lines {
		doc := cartLineDocument{
			ProductID:      strings.TrimSpace(line.ProductID),
			Name:           strings.TrimSpace(line.Name),
			PartNumber:     strings.TrimSpace(line.PartNumber),
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			WeightLbs:      line.Shipping.WeightLbs,
			Length:         line.Shipping.Length,
			Width:          line.Shipping.Width,
			Height:         line.Shipping.Height,
			Manufacturer:   strings.TrimSpace(line.Manufacturer),
			PlatformLabel:  strings.TrimSpace(line.PlatformLabel),
			YearRange:      strings.TrimSpace(line.YearRange),
			ImageRef:       strings.TrimSpace(line.ImageRef),
		}
		for _, addOn := range line.AddOns {
			doc.AddOns = append(doc.AddOns, cartAddOnDocument{
				Kind:       string(addOn.Kind),
				Name:       addOn.Name,
				PriceCents: addOn.PriceCents,
			})
		}
		if line.Variant != nil {
			doc.Variant = &cartVariantDocument{
				ColorID:   line.Variant.ColorID,
				ColorName: line.Variant.ColorName,
				Size:      line.Variant.Size,
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

func decodeCartLines(docs []cartLineDocument) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		line := domain.CartLine{
			ProductID:      doc.ProductID,
			Name:           doc.Name,
			PartNumber:     doc.PartNumber,
			UnitPriceCents: doc.UnitPriceCents,
			Quantity:       doc.Quantity,
			Shipping: domain.ShippingAttrs{
				WeightLbs: doc.WeightLbs,
				Length:    doc.Length,
				Width:     doc.Width,
				Height:    doc.Height,
			},
			Manufacturer:  doc.Manufacturer,
			PlatformLabel: doc.PlatformLabel,
			YearRange:     doc.YearRange,
			ImageRef:      doc.ImageRef,
		}
		for _, addOn := range doc.AddOns {
			line.AddOns = append(line.AddOns, domain.AddOnSelection{
				Kind:       domain.AddOnKind(addOn.Kind),
				Name:       addOn.Name,
				PriceCents: addOn.PriceCents,
			})
		}
		if doc.Variant != nil {
			line.Variant = &domain.VariantSelection{
				ColorID:   doc.Variant.ColorID,
				ColorName: doc.Variant.ColorName,
				Size:      doc.Variant.Size,
			}
		}
		lines = append(lines, line)
	}
	return lines
}

var _ repositories.CartRepository = (*CartRepository)(nil)
