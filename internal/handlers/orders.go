package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/platform/auth"
	"github.com/axleworks/api/internal/platform/httpx"
	"github.com/axleworks/api/internal/services"
)

// OrderHandlers exposes order history endpoints for the authenticated owner.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	page, err := h.orders.ListOrders(ctx, identity.UID, paginationFromQuery(r))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(ctx, w)
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func writeOrdersUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		writeOrdersUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order lookup failed", http.StatusInternalServerError))
	}
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Number          string             `json:"number,omitempty"`
	Status          string             `json:"status,omitempty"`
	Billing         addressPayload     `json:"billing"`
	Shipping        addressPayload     `json:"shipping"`
	Lines           []orderLinePayload `json:"lines"`
	ShippingMethod  string             `json:"shipping_method,omitempty"`
	ShippingCents   int64              `json:"shipping_cents"`
	FreeShipping    bool               `json:"free_shipping,omitempty"`
	TaxCents        int64              `json:"tax_cents"`
	DiscountCents   int64              `json:"discount_cents"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	PaymentMethod   string             `json:"payment_method,omitempty"`
	Card            *cardMetaPayload   `json:"card,omitempty"`
	SubtotalCents   int64              `json:"subtotal_cents"`
	GrandTotalCents int64              `json:"grand_total_cents"`
	Currency        string             `json:"currency,omitempty"`
	PurchaseOrderID string             `json:"purchase_order_id,omitempty"`
	CreatedAt       string             `json:"created_at,omitempty"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ProductID      string         `json:"product_id"`
	Name           string         `json:"name,omitempty"`
	PartNumber     string         `json:"part_number,omitempty"`
	Quantity       int            `json:"quantity"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	AddOns         []addOnPayload `json:"add_ons,omitempty"`
	ColorName      string         `json:"color_name,omitempty"`
	PlatformLabel  string         `json:"platform_label,omitempty"`
	YearRange      string         `json:"year_range,omitempty"`
}

// cardMetaPayload exposes the card display metadata stored with the order.
type cardMetaPayload struct {
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Number:          order.Number,
		Status:          order.Status,
		Billing:         buildAddressPayload(order.Payload.Billing),
		Shipping:        buildAddressPayload(order.Payload.Shipping),
		Lines:           buildOrderLinePayloads(order.Payload.Lines),
		ShippingMethod:  order.Payload.ShippingMethod,
		ShippingCents:   order.Payload.ShippingCents,
		FreeShipping:    order.Payload.FreeShipping,
		TaxCents:        order.Payload.TaxCents,
		DiscountCents:   order.Payload.DiscountCents,
		CouponCode:      order.Payload.CouponCode,
		Notes:           order.Payload.Notes,
		PaymentMethod:   string(order.Payload.PaymentMethod),
		SubtotalCents:   order.Payload.SubtotalCents,
		GrandTotalCents: order.Payload.GrandTotalCents,
		Currency:        order.Payload.Currency,
		PurchaseOrderID: order.Payload.PurchaseOrderID,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.Payload.Card != nil {
		payload.Card = &cardMetaPayload{
			Brand:    order.Payload.Card.Brand,
			Last4:    order.Payload.Card.Last4,
			ExpMonth: order.Payload.Card.ExpMonth,
			ExpYear:  order.Payload.Card.ExpYear,
		}
	}
	return payload
}

func buildOrderLinePayloads(lines []domain.OrderLine) []orderLinePayload {
	payload := make([]orderLinePayload, 0, len(lines))
	for _, line := range lines {
		entry := orderLinePayload{
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
			entry.AddOns = append(entry.AddOns, addOnPayload{
				Kind:       string(addOn.Kind),
				Name:       addOn.Name,
				PriceCents: addOn.PriceCents,
			})
		}
		payload = append(payload, entry)
	}
	return payload
}
