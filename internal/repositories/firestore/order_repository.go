package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/axleworks/api/internal/domain"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/platform/pagination"
	"github.com/axleworks/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists placed order records in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert writes the order record. Order IDs are assigned upstream so the
// write is an idempotent set.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	_, err := r.base.Set(ctx, id, encodeOrder(order))
	return err
}

// FindByID loads one order record.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByUser pages the user's orders newest first using an opaque cursor token.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	pageSize := pagination.Clamp(pager.PageSize)

	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		q := query.
			Where("userId", "==", uid).
			OrderBy("createdAt", firestore.Desc).
			Limit(pageSize + 1)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{docs[i-1].Data.CreatedAt},
			})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

// UpdateStatus applies a fulfilment status change reported by the order
// management system.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		return errors.New("order repository: status is required")
	}

	_, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "status", Value: trimmed},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

type orderDocument struct {
	Number          string          `firestore:"number,omitempty"`
	UserID          string          `firestore:"userId,omitempty"`
	Status          string          `firestore:"status"`
	Billing         orderAddressDoc `firestore:"billing"`
	Shipping        orderAddressDoc `firestore:"shipping"`
	Lines           []orderLineDoc  `firestore:"lines"`
	ShippingMethod  string          `firestore:"shippingMethod,omitempty"`
	ShippingCents   int64           `firestore:"shippingCents"`
	FreeShipping    bool            `firestore:"freeShipping,omitempty"`
	TaxCents        int64           `firestore:"taxCents"`
	DiscountCents   int64           `firestore:"discountCents"`
	CouponCode      string          `firestore:"couponCode,omitempty"`
	CouponID        string          `firestore:"couponId,omitempty"`
	Notes           string          `firestore:"notes,omitempty"`
	PaymentMethod   string          `firestore:"paymentMethod"`
	Card            *orderCardDoc   `firestore:"card,omitempty"`
	SubtotalCents   int64           `firestore:"subtotalCents"`
	GrandTotalCents int64           `firestore:"grandTotalCents"`
	Currency        string          `firestore:"currency"`
	PurchaseOrderID string          `firestore:"purchaseOrderId,omitempty"`
	CreatedAt       time.Time       `firestore:"createdAt"`
	UpdatedAt       time.Time       `firestore:"updatedAt"`
}

type orderAddressDoc struct {
	FirstName string `firestore:"firstName,omitempty"`
	LastName  string `firestore:"lastName,omitempty"`
	Address1  string `firestore:"address1,omitempty"`
	Address2  string `firestore:"address2,omitempty"`
	City      string `firestore:"city,omitempty"`
	State     string `firestore:"state,omitempty"`
	Zip       string `firestore:"zip,omitempty"`
	Country   string `firestore:"country,omitempty"`
	Phone     string `firestore:"phone,omitempty"`
	Email     string `firestore:"email,omitempty"`
}

type orderLineDoc struct {
	ProductID      string              `firestore:"productId"`
	Name           string              `firestore:"name"`
	PartNumber     string              `firestore:"partNumber,omitempty"`
	Quantity       int                 `firestore:"quantity"`
	UnitPriceCents int64               `firestore:"unitPriceCents"`
	AddOns         []cartAddOnDocument `firestore:"addOns,omitempty"`
	ColorName      string              `firestore:"colorName,omitempty"`
	PlatformLabel  string              `firestore:"platformLabel,omitempty"`
	YearRange      string              `firestore:"yearRange,omitempty"`
}

// orderCardDoc stores card display metadata only. Full card data never
// reaches persistence.
type orderCardDoc struct {
	Brand    string `firestore:"brand,omitempty"`
	Last4    string `firestore:"last4,omitempty"`
	ExpMonth int    `firestore:"expMonth,omitempty"`
	ExpYear  int    `firestore:"expYear,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	payload := order.Payload
	doc := orderDocument{
		Number:          strings.TrimSpace(order.Number),
		UserID:          strings.TrimSpace(order.UserID),
		Status:          strings.TrimSpace(order.Status),
		Billing:         encodeOrderAddress(payload.Billing),
		Shipping:        encodeOrderAddress(payload.Shipping),
		ShippingMethod:  payload.ShippingMethod,
		ShippingCents:   payload.ShippingCents,
		FreeShipping:    payload.FreeShipping,
		TaxCents:        payload.TaxCents,
		DiscountCents:   payload.DiscountCents,
		CouponCode:      payload.CouponCode,
		CouponID:        payload.CouponID,
		Notes:           payload.Notes,
		PaymentMethod:   string(payload.PaymentMethod),
		SubtotalCents:   payload.SubtotalCents,
		GrandTotalCents: payload.GrandTotalCents,
		Currency:        payload.Currency,
		PurchaseOrderID: payload.PurchaseOrderID,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	for _, line := range payload.Lines {
		lineDoc := orderLineDoc{
			ProductID:      line.ProductID,
			Name:           line.Name,
			PartNumber:     line.PartNumber,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			ColorName:      line.ColorName,
			PlatformLabel:  line.PlatformLabel,
			YearRange:      line.YearRange,
		}
		for _, addOn := range line.AddOns {
			lineDoc.AddOns = append(lineDoc.AddOns, cartAddOnDocument{
				Kind:       string(addOn.Kind),
				Name:       addOn.Name,
				PriceCents: addOn.PriceCents,
			})
		}
		doc.Lines = append(doc.Lines, lineDoc)
	}
	if payload.Card != nil {
		doc.Card = &orderCardDoc{
			Brand:    payload.Card.Brand,
			Last4:    payload.Card.Last4,
			ExpMonth: payload.Card.ExpMonth,
			ExpYear:  payload.Card.ExpYear,
		}
	}
	return doc
}

func encodeOrderAddress(addr domain.Address) orderAddressDoc {
	n := addr.Normalize()
	return orderAddressDoc{
		FirstName: n.FirstName,
		LastName:  n.LastName,
		Address1:  n.Address1,
		Address2:  n.Address2,
		City:      n.City,
		State:     n.State,
		Zip:       n.Zip,
		Country:   n.Country,
		Phone:     n.Phone,
		Email:     n.Email,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	payload := domain.OrderPayload{
		Billing:         decodeOrderAddress(d.Billing),
		Shipping:        decodeOrderAddress(d.Shipping),
		ShippingMethod:  d.ShippingMethod,
		ShippingCents:   d.ShippingCents,
		FreeShipping:    d.FreeShipping,
		TaxCents:        d.TaxCents,
		DiscountCents:   d.DiscountCents,
		CouponCode:      d.CouponCode,
		CouponID:        d.CouponID,
		CustomerID:      d.UserID,
		Notes:           d.Notes,
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		SubtotalCents:   d.SubtotalCents,
		GrandTotalCents: d.GrandTotalCents,
		Currency:        d.Currency,
		PurchaseOrderID: d.PurchaseOrderID,
	}
	for _, lineDoc := range d.Lines {
		line := domain.OrderLine{
			ProductID:      lineDoc.ProductID,
			Name:           lineDoc.Name,
			PartNumber:     lineDoc.PartNumber,
			Quantity:       lineDoc.Quantity,
			UnitPriceCents: lineDoc.UnitPriceCents,
			ColorName:      lineDoc.ColorName,
			PlatformLabel:  lineDoc.PlatformLabel,
			YearRange:      lineDoc.YearRange,
		}
		for _, addOn := range lineDoc.AddOns {
			line.AddOns = append(line.AddOns, domain.AddOnSelection{
				Kind:       domain.AddOnKind(addOn.Kind),
				Name:       addOn.Name,
				PriceCents: addOn.PriceCents,
			})
		}
		payload.Lines = append(payload.Lines, line)
	}
	if d.Card != nil {
		payload.Card = &domain.CardMeta{
			Brand:    d.Card.Brand,
			Last4:    d.Card.Last4,
			ExpMonth: d.Card.ExpMonth,
			ExpYear:  d.Card.ExpYear,
		}
	}

	return domain.Order{
		ID:        id,
		Number:    d.Number,
		UserID:    d.UserID,
		Status:    d.Status,
		Payload:   payload,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func decodeOrderAddress(doc orderAddressDoc) domain.Address {
	return domain.Address{
		FirstName: doc.FirstName,
		LastName:  doc.LastName,
		Address1:  doc.Address1,
		Address2:  doc.Address2,
		City:      doc.City,
		State:     doc.State,
		Zip:       doc.Zip,
		Country:   doc.Country,
		Phone:     doc.Phone,
		Email:     doc.Email,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
