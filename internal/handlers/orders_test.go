package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/services"
)

type stubOrderService struct {
	getOrder   func(ctx context.Context, userID string, orderID string) (domain.Order, error)
	listOrders func(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, userID string, orderID string) (domain.Order, error) {
	if s.getOrder == nil {
		return domain.Order{}, services.ErrOrderNotFound
	}
	return s.getOrder(ctx, userID, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listOrders == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listOrders(ctx, userID, page)
}

func newOrdersRouter(orders services.OrderService) chi.Router {
	h := NewOrderHandlers(nil, orders)
	r := chi.NewRouter()
	r.Route("/orders", h.Routes)
	return r
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:     "order-1",
		Number: "AX-1001",
		UserID: "user-1",
		Status: "processing",
		Payload: domain.OrderPayload{
			Billing:  domain.Address{FirstName: "Dana", LastName: "Ruiz", Address1: "100 Axle Way", City: "Dayton", State: "OH", Zip: "45402", Country: "US", Email: "dana@example.com"},
			Shipping: domain.Address{FirstName: "Dana", LastName: "Ruiz", Address1: "100 Axle Way", City: "Dayton", State: "OH", Zip: "45402", Country: "US"},
			Lines: []domain.OrderLine{{
				ProductID:      "p1",
				Name:           "Control Arm",
				Quantity:       2,
				UnitPriceCents: 10000,
			}},
			ShippingMethod:  "Ground",
			ShippingCents:   1500,
			TaxCents:        1650,
			SubtotalCents:   20000,
			GrandTotalCents: 23150,
			Currency:        "USD",
			PaymentMethod:   domain.PaymentMethodCreditCard,
			Card:            &domain.CardMeta{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2028},
		},
		CreatedAt: time.Date(2026, 4, 10, 15, 30, 0, 0, time.UTC),
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	orders := &stubOrderService{
		listOrders: func(_ context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user id %q", userID)
			}
			if page.PageSize != 5 {
				t.Fatalf("page size = %d, want 5", page.PageSize)
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{sampleOrder()}, NextPageToken: "next"}, nil
		},
	}

	router := newOrdersRouter(orders)
	req := identified(httptest.NewRequest(http.MethodGet, "/orders/?page_size=5", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp orderListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(resp.Orders))
	}
	if resp.NextPageToken != "next" {
		t.Fatalf("next page token = %q, want next", resp.NextPageToken)
	}
	got := resp.Orders[0]
	if got.ID != "order-1" || got.Number != "AX-1001" {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if got.GrandTotalCents != 23150 {
		t.Fatalf("grand total = %d, want 23150", got.GrandTotalCents)
	}
	if got.Card == nil || got.Card.Last4 != "4242" || got.Card.Brand != "visa" {
		t.Fatalf("card metadata missing or wrong: %+v", got.Card)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	orders := &stubOrderService{
		getOrder: func(_ context.Context, userID string, orderID string) (domain.Order, error) {
			if userID != "user-1" || orderID != "order-1" {
				return domain.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}

	router := newOrdersRouter(orders)
	req := identified(httptest.NewRequest(http.MethodGet, "/orders/order-1", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Billing.City != "Dayton" {
		t.Fatalf("billing address missing: %+v", resp.Order.Billing)
	}
	if len(resp.Order.Lines) != 1 || resp.Order.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines: %+v", resp.Order.Lines)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	router := newOrdersRouter(&stubOrderService{})
	req := identified(httptest.NewRequest(http.MethodGet, "/orders/missing", nil), "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	payload := decodeErrorEnvelope(t, rec)
	if payload["error"] != "order_not_found" {
		t.Fatalf("error code = %v, want order_not_found", payload["error"])
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := newOrdersRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodGet, "/orders/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
