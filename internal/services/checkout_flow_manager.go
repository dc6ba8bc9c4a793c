package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/axleworks/api/internal/domain"
)

const defaultFlowTTL = 2 * time.Hour

var (
	// ErrFlowNotFound indicates no live flow matches the identifier.
	ErrFlowNotFound = errors.New("checkout flow: not found")
	// ErrFlowManagerInvalidInput indicates a malformed start command.
	ErrFlowManagerInvalidInput = errors.New("checkout flow: invalid input")
)

// CheckoutFlowManagerDeps bundles the shared collaborators every flow is
// constructed from.
type CheckoutFlowManagerDeps struct {
	Carts     CartService
	Validator AddressValidator
	Rates     ShippingRateResolver
	Tax       TaxResolver
	Coupons   CouponService
	Dealers   DealerDiscountService
	Policy    CountryPaymentPolicy
	Profiles  ProfileService
	Notes     NotesStore
	Origin    domain.Address
	Currency  string
	FlowTTL   time.Duration
	IDGen     func() string
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Sanitize  func(string) string
}

// StartCheckoutCommand begins a new flow. CartKey identifies the cart owner
// (user id, or the anonymous cart id for guests); PurchaseOrderID switches to
// a dealer PO checkout.
type StartCheckoutCommand struct {
	Session         domain.SessionSnapshot
	CartKey         string
	PurchaseOrderID string
	ForcePayPal     bool
}

// CheckoutFlowManager owns the live flow instances, keyed by flow id, with an
// idle TTL sweep on access.
type CheckoutFlowManager struct {
	deps CheckoutFlowManagerDeps
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	flows map[string]*CheckoutFlow
}

// NewCheckoutFlowManager constructs a manager validating shared dependencies.
func NewCheckoutFlowManager(deps CheckoutFlowManagerDeps) (*CheckoutFlowManager, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout flow manager: cart service is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("checkout flow manager: address validator is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("checkout flow manager: shipping rate resolver is required")
	}
	if deps.Tax == nil {
		return nil, errors.New("checkout flow manager: tax resolver is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout flow manager: coupon service is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDGen == nil {
		deps.IDGen = func() string { return ulid.Make().String() }
	}
	if deps.Logger == nil {
		deps.Logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.FlowTTL
	if ttl <= 0 {
		ttl = defaultFlowTTL
	}
	clock := deps.Clock
	return &CheckoutFlowManager{
		deps:  deps,
		ttl:   ttl,
		now:   func() time.Time { return clock().UTC() },
		flows: map[string]*CheckoutFlow{},
	}, nil
}

// Start builds a flow for the session's cart or a dealer purchase order and
// registers it. The session snapshot is resolved immediately, so an
// authenticated caller lands directly on the billing step.
func (m *CheckoutFlowManager) Start(ctx context.Context, cmd StartCheckoutCommand) (*CheckoutFlow, error) {
	cartKey := strings.TrimSpace(cmd.CartKey)
	poID := strings.TrimSpace(cmd.PurchaseOrderID)
	if cartKey == "" && poID == "" {
		return nil, ErrFlowManagerInvalidInput
	}

	var (
		source CartSource
		err    error
	)
	if poID != "" {
		if cmd.Session.Status != domain.AuthStatusAuthenticated {
			return nil, ErrFlowManagerInvalidInput
		}
		source, err = m.deps.Carts.SourceForPurchaseOrder(ctx, cmd.Session.UserID, poID)
		if err != nil {
			return nil, err
		}
	} else {
		source = m.deps.Carts.SourceForUser(cartKey)
	}

	engine, err := NewDiscountEngine(DiscountEngineDeps{
		Coupons: m.deps.Coupons,
		Dealers: m.deps.Dealers,
		Logger:  m.deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	id := m.deps.IDGen()
	flow, err := NewCheckoutFlow(id, CheckoutFlowDeps{
		Session:     cmd.Session,
		Source:      source,
		Discounts:   engine,
		Validator:   m.deps.Validator,
		Rates:       m.deps.Rates,
		Tax:         m.deps.Tax,
		Policy:      m.deps.Policy,
		Profiles:    m.deps.Profiles,
		Notes:       m.deps.Notes,
		Origin:      m.deps.Origin,
		Currency:    m.deps.Currency,
		ForcePayPal: cmd.ForcePayPal,
		Clock:       m.deps.Clock,
		Logger:      m.deps.Logger,
		Sanitize:    m.deps.Sanitize,
	})
	if err != nil {
		return nil, err
	}
	if err := flow.ResolveSession(ctx, cmd.Session); err != nil {
		return nil, err
	}
	if !source.IsPurchaseOrder() && cmd.Session.Status == domain.AuthStatusAuthenticated {
		flow.Discounts().FetchDealerDiscount(ctx, cmd.Session)
	}

	m.mu.Lock()
	m.sweepLocked()
	m.flows[id] = flow
	m.mu.Unlock()
	return flow, nil
}

// Get returns a live flow by id.
func (m *CheckoutFlowManager) Get(id string) (*CheckoutFlow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	flow, ok := m.flows[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return flow, nil
}

// Remove drops a completed or abandoned flow.
func (m *CheckoutFlowManager) Remove(id string) {
	m.mu.Lock()
	delete(m.flows, strings.TrimSpace(id))
	m.mu.Unlock()
}

func (m *CheckoutFlowManager) sweepLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, flow := range m.flows {
		if flow.LastTouched().Before(cutoff) {
			delete(m.flows, id)
		}
	}
}
