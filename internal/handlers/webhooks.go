package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/axleworks/api/internal/platform/httpx"
	"github.com/axleworks/api/internal/repositories"
	"github.com/axleworks/api/internal/services"
)

const maxWebhookBodySize = 32 * 1024

// Statuses the order management system is allowed to push.
var acceptedOrderStatuses = map[string]struct{}{
	"processing": {},
	"shipped":    {},
	"delivered":  {},
	"cancelled":  {},
	"refunded":   {},
}

// WebhookHandlers receives signed callbacks from the order management system
// and the storefront's PayPal return/cancel relay. Request authenticity is
// enforced by the HMAC middleware mounted on the webhook group.
type WebhookHandlers struct {
	orders    repositories.OrderRepository
	flows     *services.CheckoutFlowManager
	submitter *services.OrderSubmitter
}

// NewWebhookHandlers constructs the webhook handlers. Flows and submitter may
// be nil; the PayPal intake then answers 503.
func NewWebhookHandlers(orders repositories.OrderRepository, flows *services.CheckoutFlowManager, submitter *services.OrderSubmitter) *WebhookHandlers {
	return &WebhookHandlers{orders: orders, flows: flows, submitter: submitter}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/oms/order-status", h.orderStatus)
	r.Post("/paypal/return", h.paypalReturn)
	r.Post("/paypal/cancel", h.paypalCancel)
}

type orderStatusEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (h *WebhookHandlers) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order storage is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var event orderStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(event.OrderID)
	status := strings.ToLower(strings.TrimSpace(event.Status))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}
	if _, ok := acceptedOrderStatuses[status]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not recognised", http.StatusBadRequest))
		return
	}

	if err := h.orders.UpdateStatus(ctx, orderID, status); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_update_failed", "could not apply status update", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{
		"order_id": orderID,
		"status":   status,
	})
}

type paypalCallbackEvent struct {
	FlowID        string `json:"flow_id"`
	PayPalOrderID string `json:"paypal_order_id"`
}

// paypalReturn finalizes a redirect checkout after the buyer approved the
// payment at PayPal. The storefront relays the return with the flow id and
// the PayPal order token.
func (h *WebhookHandlers) paypalReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flow, event, ok := h.paypalFlow(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(event.PayPalOrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paypal_order_id is required", http.StatusBadRequest))
		return
	}

	result, err := h.submitter.FinalizePayPal(ctx, flow, event.PayPalOrderID)
	if err != nil {
		writePayPalFlowError(ctx, w, err)
		return
	}
	if result.Status != services.SubmitConfirmed {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_confirmed", result.Message, http.StatusBadGateway))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"flow_id":  flow.ID(),
		"order_id": result.OrderID,
	})
}

// paypalCancel releases the submit guard after the buyer abandoned the
// PayPal approval, so the checkout can be retried.
func (h *WebhookHandlers) paypalCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flow, _, ok := h.paypalFlow(w, r)
	if !ok {
		return
	}
	if err := h.submitter.CancelPayPal(ctx, flow); err != nil {
		writePayPalFlowError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"flow_id": flow.ID(),
		"status":  "cancelled",
	})
}

// paypalFlow decodes the callback body and resolves the referenced flow,
// answering the error itself when either step fails.
func (h *WebhookHandlers) paypalFlow(w http.ResponseWriter, r *http.Request) (*services.CheckoutFlow, paypalCallbackEvent, bool) {
	ctx := r.Context()
	if h.flows == nil || h.submitter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
		return nil, paypalCallbackEvent{}, false
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return nil, paypalCallbackEvent{}, false
	}
	var event paypalCallbackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return nil, paypalCallbackEvent{}, false
	}
	if strings.TrimSpace(event.FlowID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "flow_id is required", http.StatusBadRequest))
		return nil, paypalCallbackEvent{}, false
	}

	flow, err := h.flows.Get(strings.TrimSpace(event.FlowID))
	if err != nil {
		writePayPalFlowError(ctx, w, err)
		return nil, paypalCallbackEvent{}, false
	}
	return flow, event, true
}

func writePayPalFlowError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFlowNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("flow_not_found", "checkout flow not found or expired", http.StatusNotFound))
	case errors.Is(err, services.ErrFlowSubmitted):
		httpx.WriteError(ctx, w, httpx.NewError("flow_completed", "checkout flow already completed", http.StatusConflict))
	case errors.Is(err, services.ErrFlowInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("flow_not_pending", "checkout flow has no pending paypal submission", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("paypal_callback_failed", "could not process paypal callback", http.StatusInternalServerError))
	}
}
