package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// AuthStatus reflects the session state the checkout flow observes.
type AuthStatus string

const (
	// AuthStatusLoading indicates the session has not resolved yet.
	AuthStatusLoading AuthStatus = "loading"
	// AuthStatusAuthenticated indicates a signed-in session.
	AuthStatusAuthenticated AuthStatus = "authenticated"
	// AuthStatusUnauthenticated indicates a guest session.
	AuthStatusUnauthenticated AuthStatus = "unauthenticated"
)

// SessionSnapshot carries the resolved auth state into the checkout flow.
type SessionSnapshot struct {
	Status AuthStatus
	UserID string
	Email  string
	Role   string
}

// Roles recognised by dealer pricing and the admin surface.
const (
	RoleDealer = "dealer"
	RoleAdmin  = "admin"
)

// CheckoutStep enumerates the wizard steps in order.
type CheckoutStep string

const (
	// StepAccount is the entry step for unauthenticated sessions.
	StepAccount CheckoutStep = "account"
	// StepBilling collects the billing address.
	StepBilling CheckoutStep = "billing"
	// StepShipping collects the shipping address and rate selection.
	StepShipping CheckoutStep = "shipping"
	// StepPayment is the terminal wizard step.
	StepPayment CheckoutStep = "payment"
)

// PaymentMethod enumerates the supported payment paths.
type PaymentMethod string

const (
	// PaymentMethodCreditCard is the default payment path.
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	// PaymentMethodPayPal is the redirect-based payment path.
	PaymentMethodPayPal PaymentMethod = "paypal"
)

// Address represents a billing or shipping postal address. The persistence
// layer historically stored the literal "0" for unset fields; Normalize must
// run before any validity check or payload assembly.
type Address struct {
	FirstName string
	LastName  string
	Address1  string
	Address2  string
	City      string
	State     string
	Zip       string
	Country   string
	Phone     string
	Email     string
}

// CleanField maps the legacy "0" sentinel and all-whitespace values to "".
func CleanField(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "0" {
		return ""
	}
	return trimmed
}

// Normalize returns a copy with every field sentinel-cleaned.
func (a Address) Normalize() Address {
	return Address{
		FirstName: CleanField(a.FirstName),
		LastName:  CleanField(a.LastName),
		Address1:  CleanField(a.Address1),
		Address2:  CleanField(a.Address2),
		City:      CleanField(a.City),
		State:     CleanField(a.State),
		Zip:       CleanField(a.Zip),
		Country:   CleanField(a.Country),
		Phone:     CleanField(a.Phone),
		Email:     CleanField(a.Email),
	}
}

// MissingBillingFields reports which billing-required fields are empty after
// sentinel cleaning.
func (a Address) MissingBillingFields() []string {
	n := a.Normalize()
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"firstName", n.FirstName},
		{"lastName", n.LastName},
		{"address1", n.Address1},
		{"city", n.City},
		{"state", n.State},
		{"zip", n.Zip},
		{"email", n.Email},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// MissingShippingFields is MissingBillingFields without the email requirement.
func (a Address) MissingShippingFields() []string {
	n := a.Normalize()
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"firstName", n.FirstName},
		{"lastName", n.LastName},
		{"address1", n.Address1},
		{"city", n.City},
		{"state", n.State},
		{"zip", n.Zip},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// DestinationKey produces the canonical dedup key for shipping-rate lookups.
// Only the fields that change rate outcomes participate.
func (a Address) DestinationKey() string {
	n := a.Normalize()
	return strings.ToUpper(n.State) + "|" + strings.ToUpper(n.Country) + "|" + strings.ToUpper(n.Zip)
}

// AddOnKind enumerates the optional line-item extras.
type AddOnKind string

const (
	// AddOnGrease is the assembly grease extra.
	AddOnGrease AddOnKind = "grease"
	// AddOnHardware is the mounting hardware extra.
	AddOnHardware AddOnKind = "hardware"
	// AddOnAngleFinder is the angle finder tool extra.
	AddOnAngleFinder AddOnKind = "angle_finder"
)

// AddOnSelection records one chosen extra with its additive price in cents.
type AddOnSelection struct {
	Kind       AddOnKind
	Name       string
	PriceCents int64
}

// VariantSelection is display-only; it never changes the line price.
type VariantSelection struct {
	ColorID   string
	ColorName string
	Size      string
}

// ShippingAttrs holds per-line parcel dimensions. Carriers reject zero or
// negative dimensions, so absent or invalid values floor at 1.
type ShippingAttrs struct {
	WeightLbs float64
	Length    float64
	Width     float64
	Height    float64
}

// Floored returns the attrs with every dimension raised to the minimum of 1.
func (s ShippingAttrs) Floored() ShippingAttrs {
	floor := func(v float64) float64 {
		if v < 1 {
			return 1
		}
		return v
	}
	return ShippingAttrs{
		WeightLbs: floor(s.WeightLbs),
		Length:    floor(s.Length),
		Width:     floor(s.Width),
		Height:    floor(s.Height),
	}
}

// CartLine is one purchasable unit in the cart or a dealer purchase order.
type CartLine struct {
	ProductID      string
	Name           string
	PartNumber     string
	UnitPriceCents int64
	Quantity       int
	AddOns         []AddOnSelection
	Variant        *VariantSelection
	Shipping       ShippingAttrs
	Manufacturer   string
	PlatformLabel  string
	YearRange      string
	ImageRef       string
}

// LineTotalCents is (unit price + selected add-ons) x quantity.
func (l CartLine) LineTotalCents() int64 {
	unit := l.UnitPriceCents
	if unit < 0 {
		unit = 0
	}
	for _, a := range l.AddOns {
		if a.PriceCents > 0 {
			unit += a.PriceCents
		}
	}
	qty := int64(l.Quantity)
	if qty < 1 {
		qty = 1
	}
	return unit * qty
}

// Cart aggregates the mutable shopping cart state for a session.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Lines     []CartLine
	UpdatedAt time.Time
}

// DealerPurchaseOrder seeds a PO checkout. Line prices already reflect dealer
// pricing, so the dealer discount never applies on top.
type DealerPurchaseOrder struct {
	ID        string
	DealerID  string
	Lines     []CartLine
	CreatedAt time.Time
}

// DiscountType distinguishes percentage coupons from fixed-amount coupons.
type DiscountType string

const (
	// DiscountPercentage scales with the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a flat amount.
	DiscountFixed DiscountType = "fixed"
)

// Coupon is the validated coupon snapshot returned by the coupon service.
// DiscountValue is cents for fixed coupons and whole percent for percentage
// coupons.
type Coupon struct {
	ID               string
	Code             string
	Name             string
	DiscountType     DiscountType
	DiscountValue    int64
	FreeShipping     bool
	Lower48Only      bool
	MinSubtotalCents int64
	Active           bool
	StartsAt         time.Time
	ExpiresAt        time.Time
}

// DiscountState is the value object the pricing calculator consumes. The
// coupon amount is derived at apply time and held constant until the coupon
// changes; it is never recomputed ad hoc.
type DiscountState struct {
	AppliedCoupon        *Coupon
	CouponDiscountCents  int64
	DealerDiscountPct    float64
	DealerDiscountUserID string
}

// RateOption is one shipping choice returned by the rate resolver.
type RateOption struct {
	Code         string
	Service      string
	Description  string
	CostCents    int64
	DeliveryDays *int
}

// ShippingSelection pairs the latest rate list with the chosen option. The
// selection is only trustworthy while DestinationKey matches the current
// shipping address.
type ShippingSelection struct {
	DestinationKey string
	Options        []RateOption
	Selected       *RateOption
}

// SelectedCostCents returns the chosen rate cost, or 0 when nothing is
// selected or the coupon forces free shipping.
func (s ShippingSelection) SelectedCostCents(freeShipping bool) int64 {
	if freeShipping || s.Selected == nil {
		return 0
	}
	if s.Selected.CostCents < 0 {
		return 0
	}
	return s.Selected.CostCents
}

// CardMeta is the only card data allowed into persisted or logged forms.
// The PAN and CVV travel no further than the immediate submission call.
type CardMeta struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// PaymentFields carries raw card entry from the payment step. Never persist
// or log this struct.
type PaymentFields struct {
	CardNumber string
	NameOnCard string
	ExpMonth   int
	ExpYear    int
	CVV        string
}

// OrderLine is the persisted projection of a cart line.
type OrderLine struct {
	ProductID      string
	Name           string
	PartNumber     string
	Quantity       int
	UnitPriceCents int64
	AddOns         []AddOnSelection
	ColorName      string
	PlatformLabel  string
	YearRange      string
}

// OrderPayload is the assembled order sent to persistence. Card data beyond
// CardMeta must never appear here.
type OrderPayload struct {
	Billing         Address
	Shipping        Address
	Lines           []OrderLine
	ShippingMethod  string
	ShippingCents   int64
	FreeShipping    bool
	TaxCents        int64
	DiscountCents   int64
	CouponCode      string
	CouponID        string
	CustomerID      string
	Notes           string
	PaymentMethod   PaymentMethod
	Card            *CardMeta
	SubtotalCents   int64
	GrandTotalCents int64
	Currency        string
	PurchaseOrderID string
	PayPalOrderID   string
}

// OrderConfirmation is the short-lived snapshot shown by the confirmation
// view, read exactly once.
type OrderConfirmation struct {
	OrderID         string
	Billing         Address
	Shipping        Address
	Lines           []OrderLine
	ShippingMethod  string
	SubtotalCents   int64
	ShippingCents   int64
	TaxCents        int64
	DiscountCents   int64
	GrandTotalCents int64
	Currency        string
	PlacedAt        time.Time
}

// Order is the persisted order record.
type Order struct {
	ID        string
	Number    string
	UserID    string
	Status    string
	Payload   OrderPayload
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile captures the canonical projection of an authenticated user.
type UserProfile struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	Role         string
	Billing      *Address
	Shipping     *Address
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncTime time.Time
}

// StoredPaymentMethod stores PSP-backed payment references without sensitive
// card data.
type StoredPaymentMethod struct {
	ID        string
	Provider  string
	Reference string
	Brand     string
	Last4     string
	ExpMonth  int
	ExpYear   int
	CreatedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
