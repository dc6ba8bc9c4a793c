package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/services"
)

func testPayload() domain.OrderPayload {
	return domain.OrderPayload{
		Billing:  domain.Address{FirstName: "Dana", LastName: "Ruiz", Address1: "14 Elm St", City: "Dayton", State: "OH", Zip: "45402", Country: "US", Email: "dana@example.com"},
		Shipping: domain.Address{FirstName: "Dana", LastName: "Ruiz", Address1: "14 Elm St", City: "Dayton", State: "OH", Zip: "45402", Country: "US"},
		Lines: []domain.OrderLine{
			{ProductID: "p1", Name: "Track Bar", Quantity: 2, UnitPriceCents: 10000},
		},
		PaymentMethod:   domain.PaymentMethodCreditCard,
		Card:            &domain.CardMeta{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2028},
		SubtotalCents:   20000,
		ShippingCents:   1000,
		TaxCents:        900,
		GrandTotalCents: 21900,
		Currency:        "USD",
	}
}

func newTestGateway(t *testing.T, url string) *HTTPGateway {
	t.Helper()
	gw, err := NewHTTPGateway(GatewayConfig{BaseURL: url, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewHTTPGateway returned error: %v", err)
	}
	return gw
}

func TestGatewayCreateSuccess(t *testing.T) {
	var received orderRequestBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("path = %q, want /orders", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "ord_1", "order_number": "1001"})
	}))
	defer server.Close()

	resp, err := newTestGateway(t, server.URL).Create(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if resp.OrderID != "ord_1" || resp.OrderNumber != "1001" {
		t.Fatalf("response = %+v", resp)
	}
	if received.Card == nil || received.Card.Last4 != "4242" {
		t.Fatalf("card meta missing from wire payload: %+v", received.Card)
	}
	if received.GrandTotalCents != 21900 {
		t.Fatalf("grand total = %d", received.GrandTotalCents)
	}
}

func TestGatewayCreateNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	_, err := newTestGateway(t, server.URL).Create(context.Background(), testPayload())
	var netErr *services.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestGatewayCreateMalformedSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>gateway timeout</html>"))
	}))
	defer server.Close()

	_, err := newTestGateway(t, server.URL).Create(context.Background(), testPayload())
	var malformed *services.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
	if malformed.Status != http.StatusOK {
		t.Fatalf("status = %d", malformed.Status)
	}
}

func TestGatewayCreateLargeSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"order_id":     "ord-123",
			"order_number": "1002",
			"audit_trail":  strings.Repeat("x", 4096),
		})
	}))
	defer server.Close()

	resp, err := newTestGateway(t, server.URL).Create(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if resp.OrderID != "ord-123" || resp.OrderNumber != "1002" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestGatewayCreateRejectionMessagePreference(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"error field wins", `{"error":"coupon already redeemed","message":"bad request"}`, "coupon already redeemed"},
		{"message field fallback", `{"message":"inventory exhausted"}`, "inventory exhausted"},
		{"short raw body", `capacity exceeded`, "capacity exceeded"},
		{"generic fallback", ``, "order was rejected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := newTestGateway(t, server.URL).Create(context.Background(), testPayload())
			var rejection *services.RejectionError
			if !errors.As(err, &rejection) {
				t.Fatalf("err = %v, want RejectionError", err)
			}
			if rejection.Status != http.StatusConflict {
				t.Fatalf("status = %d", rejection.Status)
			}
			if rejection.Message != tc.want {
				t.Fatalf("message = %q, want %q", rejection.Message, tc.want)
			}
		})
	}
}
