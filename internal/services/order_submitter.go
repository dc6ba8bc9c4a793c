package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/payments"
)

// NetworkError reports that the order-creation request never completed.
// Retrying is always safe; nothing was mutated.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "order gateway: network failure: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// MalformedResponseError reports an empty or non-JSON response body.
type MalformedResponseError struct {
	Status int
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("order gateway: malformed response (status %d)", e.Status)
}

// RejectionError reports a well-formed non-2xx response. Message holds the
// most specific text the response offered.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order gateway: rejected (status %d): %s", e.Status, e.Message)
}

// SubmitStatus classifies the outcome of a submission attempt.
type SubmitStatus string

const (
	// SubmitIgnored means a submission was already in flight; nothing happened.
	SubmitIgnored SubmitStatus = "ignored"
	// SubmitRejected means the attempt failed; the cart is untouched and the
	// user may retry.
	SubmitRejected SubmitStatus = "rejected"
	// SubmitRedirect means a PayPal approval URL was obtained.
	SubmitRedirect SubmitStatus = "redirect"
	// SubmitConfirmed means persistence confirmed the order.
	SubmitConfirmed SubmitStatus = "confirmed"
)

// SubmitResult reports a submission outcome with user-displayable messaging.
type SubmitResult struct {
	Status      SubmitStatus
	OrderID     string
	RedirectURL string
	Message     string
	FieldErrors []string
}

const (
	msgNetworkFailure      = "We could not reach the order service. Please check your connection and try again."
	msgPayPalNotConfigured = "PayPal checkout is not available on this store. Please contact support."
	msgPayPalUnavailable   = "PayPal is temporarily unavailable. Please try again in a few minutes."
	msgPayPalGeneric       = "We could not start PayPal checkout. Please try again or choose another payment method."
)

// OrderRecorder persists the local order record after persistence confirms.
type OrderRecorder interface {
	Record(ctx context.Context, order domain.Order) error
}

// OrderSubmitterDeps bundles the collaborators behind the submitter.
type OrderSubmitterDeps struct {
	Gateway       OrderGateway
	PayPal        PayPalInitiator
	Profiles      ProfileService
	Receipts      ReceiptDispatcher
	Confirmations ConfirmationStore
	Notes         NotesStore
	Orders        OrderRecorder
	IDGen         func() string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// OrderSubmitter orchestrates final validation, payload assembly, submission
// and the post-success side effects. The cart and coupon are cleared only
// once persistence confirms; every failure path leaves them intact and
// releases the submitting guard so the user can retry.
type OrderSubmitter struct {
	gateway       OrderGateway
	paypal        PayPalInitiator
	profiles      ProfileService
	receipts      ReceiptDispatcher
	confirmations ConfirmationStore
	notes         NotesStore
	orders        OrderRecorder
	idGen         func() string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderSubmitter constructs an OrderSubmitter validating required dependencies.
func NewOrderSubmitter(deps OrderSubmitterDeps) (*OrderSubmitter, error) {
	if deps.Gateway == nil {
		return nil, errors.New("order submitter: order gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &OrderSubmitter{
		gateway:       deps.Gateway,
		paypal:        deps.PayPal,
		profiles:      deps.Profiles,
		receipts:      deps.Receipts,
		confirmations: deps.Confirmations,
		notes:         deps.Notes,
		orders:        deps.Orders,
		idGen:         idGen,
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
	}, nil
}

// Submit runs the full submission sequence for a flow. Re-entrant calls while
// a submission is in flight return SubmitIgnored without side effects.
func (s *OrderSubmitter) Submit(ctx context.Context, flow *CheckoutFlow, fields domain.PaymentFields) (SubmitResult, error) {
	ok, err := flow.BeginSubmit()
	if err != nil {
		return SubmitResult{}, err
	}
	if !ok {
		return SubmitResult{Status: SubmitIgnored}, nil
	}

	state := flow.State()
	if problems := s.validate(state, fields); len(problems) > 0 {
		flow.ReleaseSubmit()
		return SubmitResult{
			Status:      SubmitRejected,
			Message:     "Please correct the following before placing your order: " + strings.Join(problems, "; ") + ".",
			FieldErrors: problems,
		}, nil
	}

	// Totals are recomputed from live state; a cached figure is never trusted.
	totals, err := flow.Totals(ctx)
	if err != nil {
		flow.ReleaseSubmit()
		return SubmitResult{}, err
	}

	payload, err := s.buildPayload(ctx, flow, state, totals, fields)
	if err != nil {
		flow.ReleaseSubmit()
		return SubmitResult{}, err
	}

	if state.PaymentMethod == domain.PaymentMethodPayPal {
		return s.submitPayPal(ctx, flow, payload)
	}
	return s.persistAndConfirm(ctx, flow, payload, totals)
}

// validate runs every local check before any network call.
func (s *OrderSubmitter) validate(state FlowState, fields domain.PaymentFields) []string {
	var problems []string
	problems = append(problems, state.Billing.MissingBillingFields()...)
	if !state.SameAsBilling {
		for _, f := range state.Shipping.MissingShippingFields() {
			problems = append(problems, "shipping "+f)
		}
	}
	if !state.TermsAgreed {
		problems = append(problems, "you must agree to the terms and conditions")
	}
	if state.PaymentMethod == domain.PaymentMethodCreditCard {
		_, cardProblems := payments.ValidateCard(fields, s.now())
		problems = append(problems, cardProblems...)
	}
	return problems
}

func (s *OrderSubmitter) buildPayload(ctx context.Context, flow *CheckoutFlow, state FlowState, totals domain.TotalsBreakdown, fields domain.PaymentFields) (domain.OrderPayload, error) {
	lines, err := flow.Source().Lines(ctx)
	if err != nil {
		return domain.OrderPayload{}, err
	}

	orderLines := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		qty := line.Quantity
		if qty < 1 {
			qty = 1
		}
		ol := domain.OrderLine{
			ProductID:      line.ProductID,
			Name:           line.Name,
			PartNumber:     line.PartNumber,
			Quantity:       qty,
			UnitPriceCents: line.UnitPriceCents,
			AddOns:         append([]domain.AddOnSelection(nil), line.AddOns...),
			PlatformLabel:  line.PlatformLabel,
			YearRange:      line.YearRange,
		}
		if line.Variant != nil {
			ol.ColorName = line.Variant.ColorName
		}
		orderLines = append(orderLines, ol)
	}

	notes := ""
	if s.notes != nil {
		if loaded, err := s.notes.Load(ctx, flow.ID()); err == nil {
			notes = loaded
		}
	}

	shipping := state.Shipping.Normalize()
	billing := state.Billing.Normalize()
	shippingMethod := ""
	if state.SelectedRate != nil {
		shippingMethod = state.SelectedRate.Service
	}

	payload := domain.OrderPayload{
		Billing:         billing,
		Shipping:        shipping,
		Lines:           orderLines,
		ShippingMethod:  shippingMethod,
		ShippingCents:   totals.ShippingCents,
		FreeShipping:    totals.FreeShipping,
		TaxCents:        totals.TaxCents,
		DiscountCents:   totals.CombinedDiscountCents(),
		Notes:           notes,
		PaymentMethod:   state.PaymentMethod,
		SubtotalCents:   totals.SubtotalCents,
		GrandTotalCents: totals.GrandTotalCents,
		Currency:        totals.Currency,
		PurchaseOrderID: flow.Source().PurchaseOrderID(),
	}

	discounts := flow.Discounts().State()
	if discounts.AppliedCoupon != nil {
		payload.CouponCode = discounts.AppliedCoupon.Code
		payload.CouponID = discounts.AppliedCoupon.ID
	}

	session := flow.Session()
	if session.Status == domain.AuthStatusAuthenticated {
		payload.CustomerID = session.UserID
	}

	if state.PaymentMethod == domain.PaymentMethodCreditCard {
		// Only the masked metadata enters the payload; the PAN and CVV stop here.
		meta, _ := payments.ValidateCard(fields, s.now())
		payload.Card = &meta
	}
	return payload, nil
}

// submitPayPal branches the whole submission to the redirect path. The order
// is finalized by the return-from-PayPal step, so the local flow ends at the
// redirect.
func (s *OrderSubmitter) submitPayPal(ctx context.Context, flow *CheckoutFlow, payload domain.OrderPayload) (SubmitResult, error) {
	if s.paypal == nil {
		flow.ReleaseSubmit()
		return SubmitResult{Status: SubmitRejected, Message: msgPayPalNotConfigured}, nil
	}
	approvalURL, err := s.paypal.CreateOrder(ctx, payload)
	if err != nil {
		flow.ReleaseSubmit()
		switch {
		case errors.Is(err, payments.ErrPayPalNotConfigured):
			return SubmitResult{Status: SubmitRejected, Message: msgPayPalNotConfigured}, nil
		case errors.Is(err, payments.ErrPayPalUnavailable):
			return SubmitResult{Status: SubmitRejected, Message: msgPayPalUnavailable}, nil
		default:
			s.logger(ctx, "order.paypal_initiation_failed", map[string]any{
				"flow_id": flow.ID(),
				"error":   err.Error(),
			})
			return SubmitResult{Status: SubmitRejected, Message: msgPayPalGeneric}, nil
		}
	}
	return SubmitResult{Status: SubmitRedirect, RedirectURL: approvalURL}, nil
}

// FinalizePayPal completes a redirect submission after the buyer approved the
// payment. The flow must still hold the submitting guard taken at redirect
// time; totals and payload are rebuilt from live state, never replayed.
func (s *OrderSubmitter) FinalizePayPal(ctx context.Context, flow *CheckoutFlow, paypalOrderID string) (SubmitResult, error) {
	paypalOrderID = strings.TrimSpace(paypalOrderID)
	if paypalOrderID == "" {
		return SubmitResult{}, errors.New("order submitter: paypal order id is required")
	}
	state := flow.State()
	if state.Submitted {
		return SubmitResult{}, ErrFlowSubmitted
	}
	if !state.Submitting || state.PaymentMethod != domain.PaymentMethodPayPal {
		return SubmitResult{}, ErrFlowInvalidTransition
	}

	totals, err := flow.Totals(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	payload, err := s.buildPayload(ctx, flow, state, totals, domain.PaymentFields{})
	if err != nil {
		return SubmitResult{}, err
	}
	payload.PayPalOrderID = paypalOrderID
	return s.persistAndConfirm(ctx, flow, payload, totals)
}

// CancelPayPal releases the submitting guard after the buyer abandoned the
// PayPal approval, so the checkout can be retried. Already-completed flows
// are left alone.
func (s *OrderSubmitter) CancelPayPal(ctx context.Context, flow *CheckoutFlow) error {
	state := flow.State()
	if state.Submitted {
		return ErrFlowSubmitted
	}
	if !state.Submitting || state.PaymentMethod != domain.PaymentMethodPayPal {
		return ErrFlowInvalidTransition
	}
	flow.ReleaseSubmit()
	s.logger(ctx, "order.paypal_cancelled", map[string]any{
		"flow_id": flow.ID(),
	})
	return nil
}

// persistAndConfirm runs the sequential persistence path shared by the card
// branch and the PayPal finalization: create order, then the failure-tolerant
// side effects, then the confirmation snapshot.
func (s *OrderSubmitter) persistAndConfirm(ctx context.Context, flow *CheckoutFlow, payload domain.OrderPayload, totals domain.TotalsBreakdown) (SubmitResult, error) {
	resp, err := s.gateway.Create(ctx, payload)
	if err != nil {
		flow.ReleaseSubmit()
		var (
			netErr  *NetworkError
			badErr  *MalformedResponseError
			rejErr  *RejectionError
			message string
		)
		switch {
		case errors.As(err, &netErr):
			message = msgNetworkFailure
		case errors.As(err, &badErr):
			message = fmt.Sprintf("The order service returned an invalid response (status %d). Please try again.", badErr.Status)
		case errors.As(err, &rejErr):
			message = fmt.Sprintf("%s (status %d)", rejErr.Message, rejErr.Status)
		default:
			s.logger(ctx, "order.create_failed", map[string]any{
				"flow_id": flow.ID(),
				"error":   err.Error(),
			})
			message = "Your order could not be placed. Please try again."
		}
		return SubmitResult{Status: SubmitRejected, Message: message}, nil
	}

	orderID := strings.TrimSpace(resp.OrderNumber)
	if orderID == "" {
		orderID = strings.TrimSpace(resp.OrderID)
	}

	// Point of no return: persistence confirmed, so the cart and coupon clear
	// now regardless of what the side effects below do.
	if err := flow.Source().Clear(ctx); err != nil {
		s.logger(ctx, "order.cart_clear_failed", map[string]any{
			"flow_id":  flow.ID(),
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
	flow.Discounts().RemoveCoupon()
	if s.notes != nil {
		if err := s.notes.Clear(ctx, flow.ID()); err != nil {
			s.logger(ctx, "order.notes_clear_failed", map[string]any{
				"flow_id": flow.ID(),
				"error":   err.Error(),
			})
		}
	}

	now := s.now()
	if s.orders != nil {
		record := domain.Order{
			ID:        s.idGen(),
			Number:    orderID,
			UserID:    payload.CustomerID,
			Status:    "placed",
			Payload:   payload,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.orders.Record(ctx, record); err != nil {
			s.logger(ctx, "order.record_failed", map[string]any{
				"order_id": orderID,
				"error":    err.Error(),
			})
		}
	}

	confirmation := domain.OrderConfirmation{
		OrderID:         orderID,
		Billing:         payload.Billing,
		Shipping:        payload.Shipping,
		Lines:           payload.Lines,
		ShippingMethod:  payload.ShippingMethod,
		SubtotalCents:   totals.SubtotalCents,
		ShippingCents:   totals.ShippingCents,
		TaxCents:        totals.TaxCents,
		DiscountCents:   totals.CombinedDiscountCents(),
		GrandTotalCents: totals.GrandTotalCents,
		Currency:        totals.Currency,
		PlacedAt:        now,
	}

	s.runSideEffects(ctx, flow, payload, confirmation)

	if s.confirmations != nil {
		if err := s.confirmations.Save(ctx, flow.ID(), confirmation); err != nil {
			s.logger(ctx, "order.confirmation_save_failed", map[string]any{
				"order_id": orderID,
				"error":    err.Error(),
			})
		}
	}

	flow.MarkSubmitted()
	return SubmitResult{Status: SubmitConfirmed, OrderID: orderID}, nil
}

// runSideEffects performs the best-effort post-success work. Each effect is
// isolated; one failing never blocks the others or the confirmation.
func (s *OrderSubmitter) runSideEffects(ctx context.Context, flow *CheckoutFlow, payload domain.OrderPayload, confirmation domain.OrderConfirmation) {
	session := flow.Session()

	if s.profiles != nil && session.Status == domain.AuthStatusAuthenticated && session.UserID != "" {
		billing := payload.Billing
		shipping := payload.Shipping
		err := s.profiles.UpdateProfile(ctx, UpdateProfileCommand{
			UserID:   session.UserID,
			Billing:  &billing,
			Shipping: &shipping,
			Phone:    payload.Billing.Phone,
		})
		if err != nil {
			s.logger(ctx, "order.profile_sync_failed", map[string]any{
				"order_id": confirmation.OrderID,
				"error":    err.Error(),
			})
		}
	}

	if s.receipts != nil && payload.Billing.Email != "" {
		if err := s.receipts.Send(ctx, payload.Billing.Email, confirmation.OrderID, confirmation); err != nil {
			s.logger(ctx, "order.receipt_dispatch_failed", map[string]any{
				"order_id": confirmation.OrderID,
				"error":    err.Error(),
			})
		}
	}
}
