package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/axleworks/api/internal/domain"
)

func testPayload() domain.OrderPayload {
	return domain.OrderPayload{Currency: "USD", GrandTotalCents: 21900}
}

func TestPayPalCreateOrderNotConfigured(t *testing.T) {
	client := NewPayPalClient(PayPalClientConfig{BaseURL: "https://api.example.com"})
	_, err := client.CreateOrder(context.Background(), testPayload())
	if !errors.Is(err, ErrPayPalNotConfigured) {
		t.Fatalf("err = %v, want ErrPayPalNotConfigured", err)
	}
}

func TestPayPalCreateOrderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/checkout/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Errorf("missing basic auth")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5O1","links":[{"href":"https://paypal.test/approve/5O1","rel":"approve"}]}`))
	}))
	defer srv.Close()

	client := NewPayPalClient(PayPalClientConfig{BaseURL: srv.URL, ClientID: "id", Secret: "sec"})
	url, err := client.CreateOrder(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if url != "https://paypal.test/approve/5O1" {
		t.Fatalf("approval url = %q", url)
	}
}

func TestPayPalCreateOrderTransientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewPayPalClient(PayPalClientConfig{BaseURL: srv.URL, ClientID: "id", Secret: "sec"})
	_, err := client.CreateOrder(context.Background(), testPayload())
	if !errors.Is(err, ErrPayPalUnavailable) {
		t.Fatalf("err = %v, want ErrPayPalUnavailable", err)
	}
}

func TestPayPalCreateOrderGenericRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"INVALID_REQUEST"}`))
	}))
	defer srv.Close()

	client := NewPayPalClient(PayPalClientConfig{BaseURL: srv.URL, ClientID: "id", Secret: "sec"})
	_, err := client.CreateOrder(context.Background(), testPayload())
	if err == nil || errors.Is(err, ErrPayPalUnavailable) || errors.Is(err, ErrPayPalNotConfigured) {
		t.Fatalf("err = %v, want generic rejection", err)
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("rejection message lacks status: %v", err)
	}
}

func TestPayPalCreateOrderNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewPayPalClient(PayPalClientConfig{BaseURL: url, ClientID: "id", Secret: "sec"})
	_, err := client.CreateOrder(context.Background(), testPayload())
	if !errors.Is(err, ErrPayPalUnavailable) {
		t.Fatalf("err = %v, want ErrPayPalUnavailable", err)
	}
}
