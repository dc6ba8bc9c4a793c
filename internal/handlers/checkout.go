package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/platform/auth"
	"github.com/axleworks/api/internal/platform/httpx"
	"github.com/axleworks/api/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

// CheckoutFeatures toggles optional checkout surfaces. Disabled surfaces are
// rejected at the handler so the services underneath never see the request.
type CheckoutFeatures struct {
	Coupons      bool
	DealerOrders bool
}

// CheckoutHandlers drives the checkout wizard over HTTP. Guests are allowed;
// a bearer token upgrades the session when present.
type CheckoutHandlers struct {
	authn         *auth.Authenticator
	flows         *services.CheckoutFlowManager
	submitter     *services.OrderSubmitter
	confirmations services.ConfirmationStore
	features      CheckoutFeatures
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, flows *services.CheckoutFlowManager, submitter *services.OrderSubmitter, confirmations services.ConfirmationStore, features CheckoutFeatures) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:         authn,
		flows:         flows,
		submitter:     submitter,
		confirmations: confirmations,
		features:      features,
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Post("/", h.startFlow)
	r.Route("/{flowID}", func(rt chi.Router) {
		rt.Get("/", h.getFlow)
		rt.Post("/guest", h.continueAsGuest)
		rt.Put("/billing", h.setBilling)
		rt.Put("/shipping", h.setShipping)
		rt.Post("/advance", h.advance)
		rt.Post("/back", h.back)
		rt.Post("/rates/refresh", h.refreshRates)
		rt.Put("/rates", h.selectRate)
		rt.Post("/coupon", h.applyCoupon)
		rt.Delete("/coupon", h.removeCoupon)
		rt.Put("/payment-method", h.setPaymentMethod)
		rt.Put("/terms", h.setTerms)
		rt.Get("/notes", h.getNotes)
		rt.Put("/notes", h.saveNotes)
		rt.Get("/totals", h.getTotals)
		rt.Post("/submit", h.submit)
		rt.Get("/confirmation", h.getConfirmation)
	})
}

func (h *CheckoutHandlers) startFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.flows == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}

	var req startCheckoutRequest
	if r.Body != nil {
		body, err := readLimitedBody(r, maxCheckoutBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
				return
			}
		}
	}

	session := sessionFromContext(ctx)
	cmd := services.StartCheckoutCommand{
		Session:         session,
		CartKey:         strings.TrimSpace(req.CartKey),
		PurchaseOrderID: strings.TrimSpace(req.PurchaseOrderID),
		ForcePayPal:     req.ForcePayPal,
	}
	if cmd.PurchaseOrderID != "" && !h.features.DealerOrders {
		httpx.WriteError(ctx, w, httpx.NewError("dealer_orders_disabled", "purchase order checkout is disabled", http.StatusForbidden))
		return
	}
	if cmd.CartKey == "" && cmd.PurchaseOrderID == "" && session.UserID != "" {
		cmd.CartKey = session.UserID
	}

	flow, err := h.flows.Start(ctx, cmd)
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}
	if err := flow.ResolveSession(ctx, session); err != nil {
		writeFlowError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, flowResponse{Flow: buildFlowPayload(flow.State())})
}

func (h *CheckoutHandlers) getFlow(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		if err := flow.ResolveSession(ctx, sessionFromContext(ctx)); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) continueAsGuest(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		if err := flow.ContinueAsGuest(); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) setBilling(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		var req addressRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		if err := flow.SetBillingAddress(ctx, req.Address.toDomain()); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		if req.SameAsBilling != nil {
			if err := flow.SetSameAsBilling(ctx, *req.SameAsBilling); err != nil {
				writeFlowError(ctx, w, err)
				return
			}
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) setShipping(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		var req addressRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		if req.SameAsBilling != nil && *req.SameAsBilling {
			if err := flow.SetSameAsBilling(ctx, true); err != nil {
				writeFlowError(ctx, w, err)
				return
			}
		} else if err := flow.SetShippingAddress(ctx, req.Address.toDomain()); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) advance(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		var req advanceRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		var err error
		switch domain.CheckoutStep(strings.TrimSpace(req.Target)) {
		case domain.StepShipping:
			err = flow.AdvanceToShipping(ctx)
		case domain.StepPayment:
			err = flow.AdvanceToPayment(ctx)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target must be shipping or payment", http.StatusBadRequest))
			return
		}
		if err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) back(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		if err := flow.Back(); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) refreshRates(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		flow.RefreshRates(ctx)
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) selectRate(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		var req selectRateRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		if err := flow.SelectRate(strings.TrimSpace(req.Code)); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		if !h.features.Coupons {
			writeCouponsDisabled(ctx, w)
			return
		}
		var req couponRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		result, err := flow.ApplyCoupon(ctx, strings.TrimSpace(req.Code))
		if err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		payload := couponResultPayload{
			Success:       result.Success,
			Message:       result.Message,
			DiscountCents: result.DiscountCents,
		}
		if result.Coupon != nil {
			payload.Code = result.Coupon.Code
			payload.FreeShipping = result.Coupon.FreeShipping
		}
		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		writeJSONResponse(w, status, payload)
	})
}

func (h *CheckoutHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		if !h.features.Coupons {
			writeCouponsDisabled(ctx, w)
			return
		}
		if err := flow.RemoveCoupon(); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *CheckoutHandlers) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		var req paymentMethodRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		method := domain.PaymentMethod(strings.TrimSpace(req.Method))
		if method != domain.PaymentMethodCreditCard && method != domain.PaymentMethodPayPal {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "method must be credit_card or paypal", http.StatusBadRequest))
			return
		}
		if err := flow.SetPaymentMethod(method); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) setTerms(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		var req termsRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		if err := flow.SetTermsAgreed(req.Agreed); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, flowResponse{Flow: buildFlowPayload(flow.State())})
	})
}

func (h *CheckoutHandlers) getNotes(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		notes, err := flow.LoadNotes(ctx)
		if err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, notesPayload{Notes: notes})
	})
}

func (h *CheckoutHandlers) saveNotes(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		var req notesPayload
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}
		if err := flow.SaveNotes(ctx, req.Notes); err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *CheckoutHandlers) getTotals(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		totals, err := flow.Totals(ctx)
		if err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, totalsResponse{Totals: buildTotalsPayload(totals)})
	})
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	h.withFlow(w, r, func(ctx context.Context, flow *services.CheckoutFlow) {
		if h.submitter == nil {
			writeCheckoutUnavailable(ctx, w)
			return
		}

		var req submitRequest
		if !h.decodeBody(ctx, w, r, &req) {
			return
		}

		fields := domain.PaymentFields{
			CardNumber: req.CardNumber,
			NameOnCard: req.NameOnCard,
			ExpMonth:   req.ExpMonth,
			ExpYear:    req.ExpYear,
			CVV:        req.CVV,
		}

		result, err := h.submitter.Submit(ctx, flow, fields)
		if err != nil {
			writeFlowError(ctx, w, err)
			return
		}

		payload := submitResponse{
			Status:      string(result.Status),
			OrderID:     result.OrderID,
			RedirectURL: result.RedirectURL,
			Message:     result.Message,
			FieldErrors: result.FieldErrors,
		}
		status := http.StatusOK
		switch result.Status {
		case services.SubmitRejected:
			status = http.StatusUnprocessableEntity
		case services.SubmitIgnored:
			status = http.StatusConflict
		}
		writeJSONResponse(w, status, payload)
	})
}

// getConfirmation serves the post-submit snapshot exactly once. A second read
// returns 404 so a reload cannot replay the confirmation.
func (h *CheckoutHandlers) getConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.confirmations == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}

	flowID := strings.TrimSpace(chi.URLParam(r, "flowID"))
	confirmation, found, err := h.confirmations.Take(ctx, flowID)
	if err != nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}
	if !found {
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_not_found", "confirmation not found or already viewed", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, confirmationResponse{Confirmation: buildConfirmationPayload(confirmation)})
}

func (h *CheckoutHandlers) withFlow(w http.ResponseWriter, r *http.Request, fn func(context.Context, *services.CheckoutFlow)) {
	ctx := r.Context()
	if h.flows == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}

	flowID := strings.TrimSpace(chi.URLParam(r, "flowID"))
	flow, err := h.flows.Get(flowID)
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}
	fn(ctx, flow)
}

func (h *CheckoutHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dest any) bool {
	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

// sessionFromContext derives the checkout session snapshot from the request
// identity. Absent identity means a guest session.
func sessionFromContext(ctx context.Context) domain.SessionSnapshot {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return domain.SessionSnapshot{Status: domain.AuthStatusUnauthenticated}
	}
	session := domain.SessionSnapshot{
		Status: domain.AuthStatusAuthenticated,
		UserID: identity.UID,
		Email:  identity.Email,
	}
	switch {
	case identity.HasRole(domain.RoleDealer):
		session.Role = domain.RoleDealer
	case identity.HasRole(domain.RoleAdmin):
		session.Role = domain.RoleAdmin
	}
	return session
}

func writeCouponsDisabled(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("coupons_disabled", "coupon codes are not available", http.StatusForbidden))
}

func writeCheckoutUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
}

func writeFlowError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var denied *services.StepDeniedError
	switch {
	case errors.As(err, &denied):
		httpx.WriteError(ctx, w, httpx.NewError("step_denied", denied.Message, http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrFlowNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("flow_not_found", "checkout flow not found or expired", http.StatusNotFound))
	case errors.Is(err, services.ErrFlowManagerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart key or purchase order id is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrFlowSessionLoading):
		httpx.WriteError(ctx, w, httpx.NewError("session_unresolved", "session is still resolving", http.StatusConflict))
	case errors.Is(err, services.ErrFlowSubmitted):
		httpx.WriteError(ctx, w, httpx.NewError("flow_submitted", "checkout already completed", http.StatusConflict))
	case errors.Is(err, services.ErrFlowInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "transition not allowed from the current step", http.StatusConflict))
	case errors.Is(err, services.ErrFlowRateNotOffered):
		httpx.WriteError(ctx, w, httpx.NewError("rate_not_offered", "selected rate is not in the current options", http.StatusBadRequest))
	case errors.Is(err, services.ErrFlowCardNotOffered):
		httpx.WriteError(ctx, w, httpx.NewError("card_not_offered", "card payment is not offered for this destination", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart or purchase order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPurchaseOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("purchase_order_forbidden", "purchase order belongs to another dealer", http.StatusForbidden))
	case errors.Is(err, services.ErrCartUnavailable):
		writeCheckoutUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", err.Error(), http.StatusInternalServerError))
	}
}

type startCheckoutRequest struct {
	CartKey         string `json:"cart_key,omitempty"`
	PurchaseOrderID string `json:"purchase_order_id,omitempty"`
	ForcePayPal     bool   `json:"force_paypal,omitempty"`
}

type addressRequest struct {
	Address       addressPayload `json:"address"`
	SameAsBilling *bool          `json:"same_as_billing,omitempty"`
}

type advanceRequest struct {
	Target string `json:"target"`
}

type selectRateRequest struct {
	Code string `json:"code"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type couponResultPayload struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	DiscountCents int64  `json:"discount_cents,omitempty"`
	Code          string `json:"code,omitempty"`
	FreeShipping  bool   `json:"free_shipping,omitempty"`
}

type paymentMethodRequest struct {
	Method string `json:"method"`
}

type termsRequest struct {
	Agreed bool `json:"agreed"`
}

type notesPayload struct {
	Notes string `json:"notes"`
}

// submitRequest carries raw card entry. It is decoded, forwarded and
// discarded; nothing here is logged or persisted.
type submitRequest struct {
	CardNumber string `json:"card_number,omitempty"`
	NameOnCard string `json:"name_on_card,omitempty"`
	ExpMonth   int    `json:"exp_month,omitempty"`
	ExpYear    int    `json:"exp_year,omitempty"`
	CVV        string `json:"cvv,omitempty"`
}

type submitResponse struct {
	Status      string   `json:"status"`
	OrderID     string   `json:"order_id,omitempty"`
	RedirectURL string   `json:"redirect_url,omitempty"`
	Message     string   `json:"message,omitempty"`
	FieldErrors []string `json:"field_errors,omitempty"`
}

type flowResponse struct {
	Flow flowPayload `json:"flow"`
}

type flowPayload struct {
	ID                  string              `json:"id"`
	Step                string              `json:"step"`
	AuthStatus          string              `json:"auth_status"`
	AccountAcknowledged bool                `json:"account_acknowledged"`
	Billing             addressPayload      `json:"billing"`
	Shipping            addressPayload      `json:"shipping"`
	SameAsBilling       bool                `json:"same_as_billing"`
	BillingValid        bool                `json:"billing_valid"`
	ShippingValid       bool                `json:"shipping_valid"`
	TermsAgreed         bool                `json:"terms_agreed"`
	PaymentMethod       string              `json:"payment_method"`
	PayPalOnly          bool                `json:"paypal_only"`
	CardOffered         bool                `json:"card_offered"`
	RateOptions         []rateOptionPayload `json:"rate_options"`
	SelectedRate        *rateOptionPayload  `json:"selected_rate,omitempty"`
	RatePending         bool                `json:"rate_pending"`
	Submitting          bool                `json:"submitting"`
	Submitted           bool                `json:"submitted"`
}

type rateOptionPayload struct {
	Code         string `json:"code"`
	Service      string `json:"service,omitempty"`
	Description  string `json:"description,omitempty"`
	CostCents    int64  `json:"cost_cents"`
	DeliveryDays *int   `json:"delivery_days,omitempty"`
}

type totalsResponse struct {
	Totals totalsPayload `json:"totals"`
}

type totalsPayload struct {
	Currency            string             `json:"currency"`
	SubtotalCents       int64              `json:"subtotal_cents"`
	DealerDiscountCents int64              `json:"dealer_discount_cents,omitempty"`
	CouponDiscountCents int64              `json:"coupon_discount_cents,omitempty"`
	ShippingCents       int64              `json:"shipping_cents"`
	TaxCents            int64              `json:"tax_cents"`
	GrandTotalCents     int64              `json:"grand_total_cents"`
	FreeShipping        bool               `json:"free_shipping,omitempty"`
	Lines               []lineTotalPayload `json:"lines,omitempty"`
}

type lineTotalPayload struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	AddOnCents     int64  `json:"add_on_cents,omitempty"`
	TotalCents     int64  `json:"total_cents"`
}

type confirmationResponse struct {
	Confirmation confirmationPayload `json:"confirmation"`
}

type confirmationPayload struct {
	OrderID         string             `json:"order_id"`
	Billing         addressPayload     `json:"billing"`
	Shipping        addressPayload     `json:"shipping"`
	Lines           []orderLinePayload `json:"lines"`
	ShippingMethod  string             `json:"shipping_method,omitempty"`
	SubtotalCents   int64              `json:"subtotal_cents"`
	ShippingCents   int64              `json:"shipping_cents"`
	TaxCents        int64              `json:"tax_cents"`
	DiscountCents   int64              `json:"discount_cents"`
	GrandTotalCents int64              `json:"grand_total_cents"`
	Currency        string             `json:"currency"`
	PlacedAt        string             `json:"placed_at,omitempty"`
}

func buildFlowPayload(state services.FlowState) flowPayload {
	payload := flowPayload{
		ID:                  state.ID,
		Step:                string(state.Step),
		AuthStatus:          string(state.AuthStatus),
		AccountAcknowledged: state.AccountAcknowledged,
		Billing:             buildAddressPayload(state.Billing),
		Shipping:            buildAddressPayload(state.Shipping),
		SameAsBilling:       state.SameAsBilling,
		BillingValid:        state.BillingValid,
		ShippingValid:       state.ShippingValid,
		TermsAgreed:         state.TermsAgreed,
		PaymentMethod:       string(state.PaymentMethod),
		PayPalOnly:          state.PayPalOnly,
		CardOffered:         state.CardOffered,
		RateOptions:         make([]rateOptionPayload, 0, len(state.RateOptions)),
		RatePending:         state.RatePending,
		Submitting:          state.Submitting,
		Submitted:           state.Submitted,
	}
	for _, option := range state.RateOptions {
		payload.RateOptions = append(payload.RateOptions, buildRateOptionPayload(option))
	}
	if state.SelectedRate != nil {
		selected := buildRateOptionPayload(*state.SelectedRate)
		payload.SelectedRate = &selected
	}
	return payload
}

func buildRateOptionPayload(option domain.RateOption) rateOptionPayload {
	return rateOptionPayload{
		Code:         option.Code,
		Service:      option.Service,
		Description:  option.Description,
		CostCents:    option.CostCents,
		DeliveryDays: option.DeliveryDays,
	}
}

func buildTotalsPayload(totals domain.TotalsBreakdown) totalsPayload {
	payload := totalsPayload{
		Currency:            totals.Currency,
		SubtotalCents:       totals.SubtotalCents,
		DealerDiscountCents: totals.DealerDiscountCents,
		CouponDiscountCents: totals.CouponDiscountCents,
		ShippingCents:       totals.ShippingCents,
		TaxCents:            totals.TaxCents,
		GrandTotalCents:     totals.GrandTotalCents,
		FreeShipping:        totals.FreeShipping,
	}
	for _, line := range totals.Lines {
		payload.Lines = append(payload.Lines, lineTotalPayload{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			AddOnCents:     line.AddOnCents,
			TotalCents:     line.TotalCents,
		})
	}
	return payload
}

func buildConfirmationPayload(confirmation domain.OrderConfirmation) confirmationPayload {
	return confirmationPayload{
		OrderID:         confirmation.OrderID,
		Billing:         buildAddressPayload(confirmation.Billing),
		Shipping:        buildAddressPayload(confirmation.Shipping),
		Lines:           buildOrderLinePayloads(confirmation.Lines),
		ShippingMethod:  confirmation.ShippingMethod,
		SubtotalCents:   confirmation.SubtotalCents,
		ShippingCents:   confirmation.ShippingCents,
		TaxCents:        confirmation.TaxCents,
		DiscountCents:   confirmation.DiscountCents,
		GrandTotalCents: confirmation.GrandTotalCents,
		Currency:        confirmation.Currency,
		PlacedAt:        formatTime(confirmation.PlacedAt),
	}
}
