package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
	"github.com/axleworks/api/internal/services"
)

type stubOrderRepository struct {
	insert       func(ctx context.Context, order domain.Order) error
	findByID     func(ctx context.Context, orderID string) (domain.Order, error)
	listByUser   func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	updateStatus func(ctx context.Context, orderID string, status string) error
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insert == nil {
		return nil
	}
	return s.insert(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByID == nil {
		return domain.Order{}, stubRepoError{msg: "not found", notFound: true}
	}
	return s.findByID(ctx, orderID)
}

func (s *stubOrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listByUser == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listByUser(ctx, userID, pager)
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, orderID string, status string) error {
	if s.updateStatus == nil {
		return nil
	}
	return s.updateStatus(ctx, orderID, status)
}

func newWebhookRouter(orders repositories.OrderRepository) chi.Router {
	h := NewWebhookHandlers(orders, nil, nil)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func TestWebhookOrderStatusUpdates(t *testing.T) {
	var gotID, gotStatus string
	orders := &stubOrderRepository{
		updateStatus: func(_ context.Context, orderID string, status string) error {
			gotID, gotStatus = orderID, status
			return nil
		},
	}

	router := newWebhookRouter(orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/oms/order-status", strings.NewReader(`{"order_id":" order-1 ","status":"Shipped"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotID != "order-1" {
		t.Fatalf("order id = %q, want trimmed order-1", gotID)
	}
	if gotStatus != "shipped" {
		t.Fatalf("status = %q, want lowercased shipped", gotStatus)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "shipped" {
		t.Fatalf("response status = %q, want shipped", resp["status"])
	}
}

func TestWebhookOrderStatusRejectsUnknownStatus(t *testing.T) {
	router := newWebhookRouter(&stubOrderRepository{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/oms/order-status", strings.NewReader(`{"order_id":"order-1","status":"teleported"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookOrderStatusRequiresOrderID(t *testing.T) {
	router := newWebhookRouter(&stubOrderRepository{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/oms/order-status", strings.NewReader(`{"status":"shipped"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookOrderStatusUnknownOrder(t *testing.T) {
	orders := &stubOrderRepository{
		updateStatus: func(context.Context, string, string) error {
			return stubRepoError{msg: "order missing", notFound: true}
		},
	}

	router := newWebhookRouter(orders)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/oms/order-status", strings.NewReader(`{"order_id":"missing","status":"delivered"}`))
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

func TestWebhookOrderStatusInvalidJSON(t *testing.T) {
	router := newWebhookRouter(&stubOrderRepository{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/oms/order-status", strings.NewReader(`{"order_id":`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

type paypalGatewayStub struct {
	mu      sync.Mutex
	payload domain.OrderPayload
	resp    services.OrderCreateResponse
	err     error
}

func (s *paypalGatewayStub) Create(_ context.Context, payload domain.OrderPayload) (services.OrderCreateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = payload
	return s.resp, s.err
}

type paypalInitiatorStub struct{}

func (paypalInitiatorStub) CreateOrder(context.Context, domain.OrderPayload) (string, error) {
	return "https://paypal.test/approve/9", nil
}

type paypalWebhookEnv struct {
	router  chi.Router
	env     *checkoutEnv
	gateway *paypalGatewayStub
	flow    *services.CheckoutFlow
}

// newPayPalWebhookEnv drives a guest flow to the PayPal redirect so the
// return and cancel callbacks have a pending submission to act on.
func newPayPalWebhookEnv(t *testing.T) *paypalWebhookEnv {
	t.Helper()
	env := newCheckoutEnv(t, nil)
	gateway := &paypalGatewayStub{resp: services.OrderCreateResponse{OrderNumber: "AW-2002"}}
	submitter, err := services.NewOrderSubmitter(services.OrderSubmitterDeps{
		Gateway:       gateway,
		PayPal:        paypalInitiatorStub{},
		Confirmations: env.confirmations,
		Notes:         env.notes,
	})
	if err != nil {
		t.Fatalf("NewOrderSubmitter: %v", err)
	}

	h := NewWebhookHandlers(&stubOrderRepository{}, env.manager, submitter)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)

	ctx := context.Background()
	flow, err := env.manager.Start(ctx, services.StartCheckoutCommand{
		Session: domain.SessionSnapshot{Status: domain.AuthStatusUnauthenticated},
		CartKey: "cart-1",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := flow.ContinueAsGuest(); err != nil {
		t.Fatalf("ContinueAsGuest: %v", err)
	}
	addr := domain.Address{
		FirstName: "Dana", LastName: "Ruiz", Address1: "100 Axle Way",
		City: "Dayton", State: "OH", Zip: "45402", Country: "US",
		Email: "dana@example.com", Phone: "937-555-0101",
	}
	if err := flow.SetBillingAddress(ctx, addr); err != nil {
		t.Fatalf("SetBillingAddress: %v", err)
	}
	if err := flow.AdvanceToShipping(ctx); err != nil {
		t.Fatalf("AdvanceToShipping: %v", err)
	}
	if err := flow.SetSameAsBilling(ctx, true); err != nil {
		t.Fatalf("SetSameAsBilling: %v", err)
	}
	if err := flow.SelectRate("ground"); err != nil {
		t.Fatalf("SelectRate: %v", err)
	}
	if err := flow.AdvanceToPayment(ctx); err != nil {
		t.Fatalf("AdvanceToPayment: %v", err)
	}
	if err := flow.SetTermsAgreed(true); err != nil {
		t.Fatalf("SetTermsAgreed: %v", err)
	}
	if err := flow.SetPaymentMethod(domain.PaymentMethodPayPal); err != nil {
		t.Fatalf("SetPaymentMethod: %v", err)
	}
	result, err := submitter.Submit(ctx, flow, domain.PaymentFields{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Status != services.SubmitRedirect {
		t.Fatalf("submit result = %+v, want redirect", result)
	}

	return &paypalWebhookEnv{router: r, env: env, gateway: gateway, flow: flow}
}

func (e *paypalWebhookEnv) post(t *testing.T, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookPayPalReturnConfirmsOrder(t *testing.T) {
	e := newPayPalWebhookEnv(t)

	body := `{"flow_id":"` + e.flow.ID() + `","paypal_order_id":"PAY-7"}`
	rec := e.post(t, "/webhooks/paypal/return", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["order_id"] != "AW-2002" {
		t.Fatalf("order_id = %q, want AW-2002", resp["order_id"])
	}
	if e.gateway.payload.PayPalOrderID != "PAY-7" {
		t.Fatalf("gateway payload PayPalOrderID = %q", e.gateway.payload.PayPalOrderID)
	}
	if !e.flow.State().Submitted {
		t.Fatal("flow not marked submitted after return")
	}
}

func TestWebhookPayPalCancelReleasesSubmission(t *testing.T) {
	e := newPayPalWebhookEnv(t)

	rec := e.post(t, "/webhooks/paypal/cancel", `{"flow_id":"`+e.flow.ID()+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	state := e.flow.State()
	if state.Submitting || state.Submitted {
		t.Fatalf("flow state = submitting %t submitted %t, want retryable", state.Submitting, state.Submitted)
	}
}

func TestWebhookPayPalReturnUnknownFlow(t *testing.T) {
	e := newPayPalWebhookEnv(t)

	rec := e.post(t, "/webhooks/paypal/return", `{"flow_id":"flow-999","paypal_order_id":"PAY-7"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	payload := decodeErrorEnvelope(t, rec)
	if payload["error"] != "flow_not_found" {
		t.Fatalf("error code = %v, want flow_not_found", payload["error"])
	}
}

func TestWebhookPayPalReturnRequiresToken(t *testing.T) {
	e := newPayPalWebhookEnv(t)

	rec := e.post(t, "/webhooks/paypal/return", `{"flow_id":"`+e.flow.ID()+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookPayPalIntakeUnavailableWithoutCheckout(t *testing.T) {
	router := newWebhookRouter(&stubOrderRepository{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal/return", strings.NewReader(`{"flow_id":"flow-1","paypal_order_id":"PAY-7"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
