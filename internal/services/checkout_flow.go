package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/axleworks/api/internal/domain"
)

var (
	// ErrFlowSessionLoading indicates the auth status is unresolved; every
	// transition is deferred until the session resolves.
	ErrFlowSessionLoading = errors.New("checkout flow: session still resolving")
	// ErrFlowInvalidTransition indicates a transition the wizard does not allow.
	ErrFlowInvalidTransition = errors.New("checkout flow: invalid transition")
	// ErrFlowSubmitted indicates the flow already completed an order.
	ErrFlowSubmitted = errors.New("checkout flow: already submitted")
	// ErrFlowRateNotOffered indicates a rate selection outside the current options.
	ErrFlowRateNotOffered = errors.New("checkout flow: rate not in current options")
	// ErrFlowCardNotOffered indicates a card selection for a PayPal-only destination.
	ErrFlowCardNotOffered = errors.New("checkout flow: card payment not offered for destination")
)

// StepDeniedError carries the user-visible reason a step transition was refused.
type StepDeniedError struct {
	Step    domain.CheckoutStep
	Message string
}

func (e *StepDeniedError) Error() string {
	return fmt.Sprintf("checkout flow: %s step denied: %s", e.Step, e.Message)
}

// CheckoutFlowDeps bundles everything one checkout flow instance needs.
// Session, cart source and discount engine are owned by the flow; nothing
// else mutates them.
type CheckoutFlowDeps struct {
	Session     domain.SessionSnapshot
	Source      CartSource
	Discounts   *DiscountEngine
	Validator   AddressValidator
	Rates       ShippingRateResolver
	Tax         TaxResolver
	Policy      CountryPaymentPolicy
	Profiles    ProfileService
	Notes       NotesStore
	Origin      domain.Address
	Currency    string
	ForcePayPal bool
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Sanitize    func(string) string
}

// CheckoutFlow sequences one checkout through account, billing, shipping and
// payment. All methods are safe for concurrent handler calls; the flow owns
// its step, address, discount and rate state exclusively.
type CheckoutFlow struct {
	id string

	mu sync.Mutex

	source    CartSource
	discounts *DiscountEngine
	validator AddressValidator
	rates     ShippingRateResolver
	tax       TaxResolver
	policy    CountryPaymentPolicy
	profiles  ProfileService
	notes     NotesStore
	origin    domain.Address
	currency  string
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	sanitize  func(string) string

	session             domain.SessionSnapshot
	step                domain.CheckoutStep
	accountAcknowledged bool

	billing           domain.Address
	shipping          domain.Address
	sameAsBilling     bool
	billingValid      bool
	shippingValidated bool

	shippingSel domain.ShippingSelection
	lastDestKey string
	rateToken   uint64
	ratePending bool

	termsAgreed   bool
	paymentMethod domain.PaymentMethod
	forcePayPal   bool
	payPalOnly    bool

	submitting bool
	submitted  bool

	lastTouched time.Time
}

// NewCheckoutFlow constructs a flow validating required dependencies. The
// flow starts on the account step; an already-authenticated session
// acknowledges it immediately on the first Resolve call.
func NewCheckoutFlow(id string, deps CheckoutFlowDeps) (*CheckoutFlow, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("checkout flow: id is required")
	}
	if deps.Source == nil {
		return nil, errors.New("checkout flow: cart source is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("checkout flow: discount engine is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("checkout flow: address validator is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("checkout flow: shipping rate resolver is required")
	}
	if deps.Tax == nil {
		return nil, errors.New("checkout flow: tax resolver is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	f := &CheckoutFlow{
		id:            id,
		source:        deps.Source,
		discounts:     deps.Discounts,
		validator:     deps.Validator,
		rates:         deps.Rates,
		tax:           deps.Tax,
		policy:        deps.Policy,
		profiles:      deps.Profiles,
		notes:         deps.Notes,
		origin:        deps.Origin.Normalize(),
		currency:      currency,
		now:           func() time.Time { return clock().UTC() },
		logger:        logger,
		sanitize:      sanitize,
		session:       deps.Session,
		step:          domain.StepAccount,
		paymentMethod: domain.PaymentMethodCreditCard,
		forcePayPal:   deps.ForcePayPal,
	}
	f.lastTouched = f.now()
	return f, nil
}

// ID returns the flow identifier.
func (f *CheckoutFlow) ID() string { return f.id }

// FlowState is the read-only projection handlers render from.
type FlowState struct {
	ID                  string
	Step                domain.CheckoutStep
	AuthStatus          domain.AuthStatus
	AccountAcknowledged bool
	Billing             domain.Address
	Shipping            domain.Address
	SameAsBilling       bool
	BillingValid        bool
	ShippingValid       bool
	TermsAgreed         bool
	PaymentMethod       domain.PaymentMethod
	PayPalOnly          bool
	CardOffered         bool
	RateOptions         []domain.RateOption
	SelectedRate        *domain.RateOption
	RatePending         bool
	Submitting          bool
	Submitted           bool
}

// State returns a snapshot of the flow.
func (f *CheckoutFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *CheckoutFlow) stateLocked() FlowState {
	state := FlowState{
		ID:                  f.id,
		Step:                f.step,
		AuthStatus:          f.session.Status,
		AccountAcknowledged: f.accountAcknowledged,
		Billing:             f.billing,
		Shipping:            f.shippingAddressLocked(),
		SameAsBilling:       f.sameAsBilling,
		BillingValid:        f.billingValid,
		ShippingValid:       f.shippingValidLocked(),
		TermsAgreed:         f.termsAgreed,
		PaymentMethod:       f.paymentMethod,
		PayPalOnly:          f.payPalOnly || f.forcePayPal,
		CardOffered:         !f.payPalOnly && !f.forcePayPal,
		RatePending:         f.ratePending,
		Submitting:          f.submitting,
		Submitted:           f.submitted,
	}
	state.RateOptions = append([]domain.RateOption(nil), f.shippingSel.Options...)
	if f.shippingSel.Selected != nil {
		selected := *f.shippingSel.Selected
		state.SelectedRate = &selected
	}
	return state
}

func (f *CheckoutFlow) shippingAddressLocked() domain.Address {
	if f.sameAsBilling {
		return f.billing
	}
	return f.shipping
}

func (f *CheckoutFlow) shippingValidLocked() bool {
	if f.sameAsBilling {
		return f.billingValid
	}
	return f.shippingValidated
}

func (f *CheckoutFlow) touchLocked() {
	f.lastTouched = f.now()
}

func (f *CheckoutFlow) interactiveLocked() error {
	if f.session.Status == domain.AuthStatusLoading {
		return ErrFlowSessionLoading
	}
	if f.submitted {
		return ErrFlowSubmitted
	}
	return nil
}

// ResolveSession feeds a fresh session snapshot into the flow. The first
// resolution to authenticated acknowledges the account step, pre-fills
// addresses from the profile and advances to billing. Account acknowledgement
// is monotonic; a later logout never re-enters the account step.
func (f *CheckoutFlow) ResolveSession(ctx context.Context, session domain.SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()

	f.session = session
	if session.Status != domain.AuthStatusAuthenticated {
		return nil
	}
	if f.accountAcknowledged {
		return nil
	}
	f.accountAcknowledged = true
	if f.step == domain.StepAccount {
		f.step = domain.StepBilling
	}
	f.prefillFromProfileLocked(ctx, session.UserID)
	return nil
}

// prefillFromProfileLocked copies profile addresses into empty billing and
// shipping forms. Best-effort; a profile failure leaves the forms blank.
func (f *CheckoutFlow) prefillFromProfileLocked(ctx context.Context, userID string) {
	if f.profiles == nil || strings.TrimSpace(userID) == "" {
		return
	}
	profile, err := f.profiles.GetProfile(ctx, userID)
	if err != nil {
		f.logger(ctx, "checkout.prefill_failed", map[string]any{
			"flow_id": f.id,
			"error":   err.Error(),
		})
		return
	}
	if profile.Billing != nil && f.billing == (domain.Address{}) {
		f.billing = profile.Billing.Normalize()
	}
	if profile.Shipping != nil && f.shipping == (domain.Address{}) {
		f.shipping = profile.Shipping.Normalize()
	}
	if f.billing.Email == "" {
		f.billing.Email = domain.CleanField(profile.Email)
	}
}

// ContinueAsGuest acknowledges the account step for an unauthenticated
// session and moves to billing with empty forms.
func (f *CheckoutFlow) ContinueAsGuest() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchLocked()

	if err := f.interactiveLocked(); err != nil {
		return err
	}
	if f.step != domain.StepAccount {
		return ErrFlowInvalidTransition
	}
	f.accountAcknowledged = true
	f.step = domain.StepBilling
	return nil
}

// SetBillingAddress stores the billing form and refreshes its validity flag
// through the external validator. While sameAsBilling is on, shipping
// validity follows automatically and the billing form is the shipping
// destination, so rates refresh as well.
func (f *CheckoutFlow) SetBillingAddress(ctx context.Context, addr domain.Address) error {
	f.mu.Lock()
	if err := f.interactiveLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.touchLocked()
	normalized := addr.Normalize()
	f.billing = normalized
	f.billingValid = false
	aliased := f.sameAsBilling
	f.mu.Unlock()

	valid, err := f.validator.Validate(ctx, normalized)
	if err != nil {
		f.logger(ctx, "checkout.billing_validation_failed", map[string]any{
			"flow_id": f.id,
			"error":   err.Error(),
		})
	} else {
		f.mu.Lock()
		// The form may have changed while validation was in flight.
		if f.billing == normalized {
			f.billingValid = valid
		}
		f.mu.Unlock()
	}

	if aliased {
		f.RefreshRates(ctx)
	}
	return nil
}

// SetShippingAddress stores a distinct shipping form. Rejected while
// sameAsBilling is on.
func (f *CheckoutFlow) SetShippingAddress(ctx context.Context, addr domain.Address) error {
	f.mu.Lock()
	if err := f.interactiveLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.sameAsBilling {
		f.mu.Unlock()
		return ErrFlowInvalidTransition
	}
	f.touchLocked()
	normalized := addr.Normalize()
	f.shipping = normalized
	f.shippingValidated = false
	f.mu.Unlock()

	valid, err := f.validator.Validate(ctx, normalized)
	if err != nil {
		f.logger(ctx, "checkout.shipping_validation_failed", map[string]any{
			"flow_id": f.id,
			"error":   err.Error(),
		})
	} else {
		f.mu.Lock()
		if f.shipping == normalized && !f.sameAsBilling {
			f.shippingValidated = valid
		}
		f.mu.Unlock()
	}

	f.RefreshRates(ctx)
	return nil
}

// SetSameAsBilling toggles the shipping alias. Turning it off resets shipping
// validity until a distinct address validates.
func (f *CheckoutFlow) SetSameAsBilling(ctx context.Context, same bool) error {
	f.mu.Lock()
	if err := f.interactiveLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.touchLocked()
	changed := f.sameAsBilling != same
	f.sameAsBilling = same
	if changed && !same {
		f.shippingValidated = false
	}
	f.mu.Unlock()

	if changed {
		f.RefreshRates(ctx)
	}
	return nil
}

// AdvanceToShipping leaves billing once the billing address validated.
// Shipping-rate computation is kicked off as a side effect and never blocks
// the transition.
func (f *CheckoutFlow) AdvanceToShipping(ctx context.Context) error {
	f.mu.Lock()
	if err := f.interactiveLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.touchLocked()
	if f.step != domain.StepBilling {
		f.mu.Unlock()
		return ErrFlowInvalidTransition
	}
	if !f.billingValid {
		f.mu.Unlock()
		return &StepDeniedError{Step: domain.StepBilling, Message: "Please provide a valid billing address before continuing."}
	}
	f.step = domain.StepShipping
	f.mu.Unlock()

	f.RefreshRates(ctx)
	return nil
}

// AdvanceToPayment leaves shipping once the shipping address is valid (its
// own validation, or billing's while aliased). The payment method defaults by
// destination policy; a PayPal-only country never offers the card path.
func (f *CheckoutFlow) AdvanceToPayment(ctx context.Context) error {
	f.mu.Lock()
	if err := f.interactiveLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.touchLocked()
	if f.step != domain.StepShipping {
		f.mu.Unlock()
		return ErrFlowInvalidTransition
	}
	if !f.billingValid {
		f.mu.Unlock()
		return &StepDeniedError{Step: domain.StepShipping, Message: "Your billing address is no longer valid. Please go back and correct it."}
	}
	if !f.shippingValidLocked() {
		f.mu.Unlock()
		return &StepDeniedError{Step: domain.StepShipping, Message: "Please provide a valid shipping address before continuing."}
	}

	dest := f.shippingAddressLocked().Normalize()
	stale := f.shippingSel.DestinationKey != dest.DestinationKey()
	if stale {
		// The rate list belongs to an earlier destination. Drop it so the
		// refresh below starts clean.
		f.shippingSel = domain.ShippingSelection{}
		f.lastDestKey = ""
	}
	f.payPalOnly = f.policy != nil && f.policy.PayPalOnly(dest.Country)
	if f.payPalOnly || f.forcePayPal {
		f.paymentMethod = domain.PaymentMethodPayPal
	} else {
		f.paymentMethod = domain.PaymentMethodCreditCard
	}
	f.step = domain.StepPayment
	f.mu.Unlock()

	if stale {
		f.RefreshRates(ctx)
	}
	return nil
}

// Back steps the wizard backwards. Payment returns to shipping, shipping to
// billing. Billing has no back; the account step is never re-entered.
func (f *CheckoutFlow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.interactiveLocked(); err != nil {
		return err
	}
	f.touchLocked()
	switch f.step {
	case domain.StepPayment:
		f.step = domain.StepShipping
		return nil
	case domain.StepShipping:
		f.step = domain.StepBilling
		return nil
	default:
		return ErrFlowInvalidTransition
	}
}

// SetPaymentMethod records the user's payment choice. The card path is
// refused outright for PayPal-only destinations.
func (f *CheckoutFlow) SetPaymentMethod(method domain.PaymentMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.interactiveLocked(); err != nil {
		return err
	}
	f.touchLocked()
	switch method {
	case domain.PaymentMethodCreditCard:
		if f.payPalOnly || f.forcePayPal {
			return ErrFlowCardNotOffered
		}
	case domain.PaymentMethodPayPal:
	default:
		return ErrFlowInvalidTransition
	}
	f.paymentMethod = method
	return nil
}

// SetTermsAgreed records the terms checkbox.
func (f *CheckoutFlow) SetTermsAgreed(agreed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.interactiveLocked(); err != nil {
		return err
	}
	f.touchLocked()
	f.termsAgreed = agreed
	return nil
}

// RefreshRates recomputes shipping rates when the destination key changed
// since the last computation. Stale in-flight responses are discarded by
// token so rapid edits cannot race; each distinct destination fetches once.
func (f *CheckoutFlow) RefreshRates(ctx context.Context) {
	f.mu.Lock()
	dest := f.shippingAddressLocked().Normalize()
	key := dest.DestinationKey()
	if key == f.lastDestKey || dest.Country == "" {
		f.mu.Unlock()
		return
	}
	f.lastDestKey = key
	f.rateToken++
	token := f.rateToken
	f.ratePending = true
	// A destination change orphans the previous selection immediately.
	f.shippingSel = domain.ShippingSelection{DestinationKey: key}
	origin := f.origin
	f.mu.Unlock()

	lines, err := f.source.Lines(ctx)
	if err != nil {
		f.rateFetchFailed(ctx, token, key, err)
		return
	}
	packages := make([]domain.ShippingAttrs, 0, len(lines))
	productIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		qty := line.Quantity
		if qty < 1 {
			qty = 1
		}
		for i := 0; i < qty; i++ {
			packages = append(packages, line.Shipping.Floored())
		}
		productIDs = append(productIDs, line.ProductID)
	}

	options, err := f.rates.GetRates(ctx, RateRequest{
		From:       origin,
		To:         dest,
		Packages:   packages,
		ProductIDs: productIDs,
	})
	if err != nil {
		f.rateFetchFailed(ctx, token, key, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if token != f.rateToken {
		// A newer destination superseded this request.
		return
	}
	f.ratePending = false
	f.shippingSel = domain.ShippingSelection{DestinationKey: key, Options: options}
}

func (f *CheckoutFlow) rateFetchFailed(ctx context.Context, token uint64, key string, err error) {
	f.logger(ctx, "checkout.rate_fetch_failed", map[string]any{
		"flow_id":  f.id,
		"dest_key": key,
		"error":    err.Error(),
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != f.rateToken {
		return
	}
	f.ratePending = false
	// Allow a retry for the same destination.
	f.lastDestKey = ""
}

// SelectRate chooses one of the currently offered options by code.
func (f *CheckoutFlow) SelectRate(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.interactiveLocked(); err != nil {
		return err
	}
	f.touchLocked()
	code = strings.TrimSpace(code)
	for _, opt := range f.shippingSel.Options {
		if opt.Code == code {
			selected := opt
			f.shippingSel.Selected = &selected
			return nil
		}
	}
	return ErrFlowRateNotOffered
}

// ApplyCoupon forwards to the discount engine with the current destination
// and subtotal as the validation hint.
func (f *CheckoutFlow) ApplyCoupon(ctx context.Context, code string) (CouponResult, error) {
	f.mu.Lock()
	if err := f.interactiveLocked(); err != nil {
		f.mu.Unlock()
		return CouponResult{}, err
	}
	f.touchLocked()
	dest := f.shippingAddressLocked()
	f.mu.Unlock()

	lines, err := f.source.Lines(ctx)
	if err != nil {
		return CouponResult{}, err
	}
	var subtotal int64
	for _, line := range lines {
		subtotal += line.LineTotalCents()
	}
	return f.discounts.ApplyCoupon(ctx, code, CouponHint{Destination: dest, SubtotalCents: subtotal})
}

// RemoveCoupon clears the applied coupon.
func (f *CheckoutFlow) RemoveCoupon() error {
	f.mu.Lock()
	if err := f.interactiveLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.touchLocked()
	f.mu.Unlock()
	f.discounts.RemoveCoupon()
	return nil
}

// SaveNotes sanitizes and persists order notes so they survive reloads.
func (f *CheckoutFlow) SaveNotes(ctx context.Context, notes string) error {
	if f.notes == nil {
		return nil
	}
	return f.notes.Save(ctx, f.id, f.sanitize(notes))
}

// LoadNotes reads the persisted order notes.
func (f *CheckoutFlow) LoadNotes(ctx context.Context) (string, error) {
	if f.notes == nil {
		return "", nil
	}
	return f.notes.Load(ctx, f.id)
}

// Totals recomputes the full pricing breakdown from current state. Submission
// relies on this instead of any cached total.
func (f *CheckoutFlow) Totals(ctx context.Context) (domain.TotalsBreakdown, error) {
	lines, err := f.source.Lines(ctx)
	if err != nil {
		return domain.TotalsBreakdown{}, err
	}
	f.discounts.ObserveCartLines(lines)

	f.mu.Lock()
	in := TotalsInput{
		Lines:           lines,
		Discounts:       f.discounts.State(),
		Shipping:        f.shippingSel,
		Destination:     f.shippingAddressLocked(),
		IsPurchaseOrder: f.source.IsPurchaseOrder(),
		Currency:        f.currency,
	}
	f.mu.Unlock()

	totals, err := ComputeTotals(ctx, in, f.tax)
	if err != nil {
		return domain.TotalsBreakdown{}, err
	}
	if totals.GrandTotalCents < 0 {
		f.logger(ctx, "checkout.negative_total", map[string]any{
			"flow_id": f.id,
			"total":   totals.GrandTotalCents,
		})
	}
	return totals, nil
}

// Session returns the latest resolved session snapshot.
func (f *CheckoutFlow) Session() domain.SessionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Source exposes the cart source backing this flow.
func (f *CheckoutFlow) Source() CartSource { return f.source }

// Discounts exposes the discount engine owned by this flow.
func (f *CheckoutFlow) Discounts() *DiscountEngine { return f.discounts }

// ShippingSelection returns a copy of the current rate state.
func (f *CheckoutFlow) ShippingSelection() domain.ShippingSelection {
	f.mu.Lock()
	defer f.mu.Unlock()
	sel := domain.ShippingSelection{
		DestinationKey: f.shippingSel.DestinationKey,
		Options:        append([]domain.RateOption(nil), f.shippingSel.Options...),
	}
	if f.shippingSel.Selected != nil {
		selected := *f.shippingSel.Selected
		sel.Selected = &selected
	}
	return sel
}

// BeginSubmit flips the submitting guard. It reports false when a submission
// is already in flight or the flow is not ready to submit, making re-entrant
// submission a no-op.
func (f *CheckoutFlow) BeginSubmit() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.interactiveLocked(); err != nil {
		return false, err
	}
	f.touchLocked()
	if f.step != domain.StepPayment {
		return false, ErrFlowInvalidTransition
	}
	if f.submitting {
		return false, nil
	}
	f.submitting = true
	return true, nil
}

// ReleaseSubmit clears the submitting guard on error paths. The success path
// never releases; MarkSubmitted ends the flow instead.
func (f *CheckoutFlow) ReleaseSubmit() {
	f.mu.Lock()
	f.submitting = false
	f.mu.Unlock()
}

// MarkSubmitted finalizes the flow after a confirmed order.
func (f *CheckoutFlow) MarkSubmitted() {
	f.mu.Lock()
	f.submitted = true
	f.mu.Unlock()
}

// LastTouched reports the flow's most recent interaction, for expiry sweeps.
func (f *CheckoutFlow) LastTouched() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTouched
}
