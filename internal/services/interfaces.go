package services

import (
	"context"

	domain "github.com/axleworks/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination        = domain.Pagination
	SortOrder         = domain.SortOrder
	Address           = domain.Address
	Cart              = domain.Cart
	CartLine          = domain.CartLine
	AddOnSelection    = domain.AddOnSelection
	ShippingAttrs     = domain.ShippingAttrs
	Coupon            = domain.Coupon
	DiscountState     = domain.DiscountState
	RateOption        = domain.RateOption
	ShippingSelection = domain.ShippingSelection
	TotalsBreakdown   = domain.TotalsBreakdown
	LineTotals        = domain.LineTotals
	OrderPayload      = domain.OrderPayload
	OrderLine         = domain.OrderLine
	OrderConfirmation = domain.OrderConfirmation
	Order             = domain.Order
	SessionSnapshot   = domain.SessionSnapshot
	CheckoutStep      = domain.CheckoutStep
	PaymentMethod     = domain.PaymentMethod
	PaymentFields     = domain.PaymentFields
	CardMeta          = domain.CardMeta
	UserProfile       = domain.UserProfile
	Product           = domain.Product
	Brand             = domain.Brand
	Category          = domain.Category
	VehiclePlatform   = domain.VehiclePlatform
	Vehicle           = domain.Vehicle
)

// AddressValidator confirms an address is deliverable. Implementations wrap
// an external validation provider and reduce its answer to a single flag.
type AddressValidator interface {
	Validate(ctx context.Context, address domain.Address) (bool, error)
}

// RateRequest describes one shipping-rate lookup.
type RateRequest struct {
	From       domain.Address
	To         domain.Address
	Packages   []domain.ShippingAttrs
	ProductIDs []string
}

// ShippingRateResolver fetches carrier rate options for a destination.
type ShippingRateResolver interface {
	GetRates(ctx context.Context, req RateRequest) ([]domain.RateOption, error)
}

// TaxQuery carries everything the tax collaborator needs. Jurisdiction logic
// lives entirely behind the resolver.
type TaxQuery struct {
	SubtotalCents    int64
	DiscountCents    int64
	DestinationState string
	ShippingCents    int64
	Lines            []domain.CartLine
}

// TaxResolver returns the tax amount in cents for a query.
type TaxResolver interface {
	GetTax(ctx context.Context, q TaxQuery) (int64, error)
}

// CouponResult is the outcome of a coupon application attempt. Message is
// user-displayable on failure.
type CouponResult struct {
	Success       bool
	Message       string
	DiscountCents int64
	Coupon        *domain.Coupon
}

// CouponHint carries the context a coupon is validated against: destination
// for geography-restricted codes, subtotal for percentage discounts.
type CouponHint struct {
	Destination   domain.Address
	SubtotalCents int64
}

// CouponService validates coupon codes remotely. The hint lets
// geography-restricted coupons fail before acceptance.
type CouponService interface {
	Apply(ctx context.Context, code string, hint CouponHint) (CouponResult, error)
}

// DealerDiscountService fetches the dealer discount percentage for a user.
type DealerDiscountService interface {
	GetDiscount(ctx context.Context, userID string) (float64, error)
}

// OrderCreateResponse is the parsed success body from order persistence.
type OrderCreateResponse struct {
	OrderID     string
	OrderNumber string
}

// OrderGateway submits the assembled payload to order persistence. Failures
// surface through the submission error taxonomy in order_submitter.go.
type OrderGateway interface {
	Create(ctx context.Context, payload domain.OrderPayload) (OrderCreateResponse, error)
}

// PayPalInitiator requests an approval URL for a redirect-based payment.
// Implementations distinguish misconfiguration from transient outage through
// the sentinel errors in the payments package.
type PayPalInitiator interface {
	CreateOrder(ctx context.Context, payload domain.OrderPayload) (string, error)
}

// UpdateProfileCommand carries the post-order best-effort profile sync.
type UpdateProfileCommand struct {
	UserID   string
	Billing  *domain.Address
	Shipping *domain.Address
	Phone    string
}

// ProfileService exposes profile reads for pre-fill and best-effort writes
// after a successful order.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) error
}

// ReceiptDispatcher sends the order confirmation email. Best-effort; callers
// log failures and move on.
type ReceiptDispatcher interface {
	Send(ctx context.Context, email string, orderID string, confirmation domain.OrderConfirmation) error
}

// CartSource normalizes the live cart and dealer purchase orders to a common
// line shape. Mutations are whole-replace. PO sources are read-mostly with
// server-authoritative dealer pricing.
type CartSource interface {
	Lines(ctx context.Context) ([]domain.CartLine, error)
	Replace(ctx context.Context, lines []domain.CartLine) error
	Clear(ctx context.Context) error
	IsPurchaseOrder() bool
	PurchaseOrderID() string
}

// ConfirmationStore persists the short-lived confirmation snapshot, read
// exactly once by the confirmation view.
type ConfirmationStore interface {
	Save(ctx context.Context, sessionID string, confirmation domain.OrderConfirmation) error
	Take(ctx context.Context, sessionID string) (domain.OrderConfirmation, bool, error)
}

// NotesStore persists order notes across reloads until submission.
type NotesStore interface {
	Save(ctx context.Context, sessionID string, notes string) error
	Load(ctx context.Context, sessionID string) (string, error)
	Clear(ctx context.Context, sessionID string) error
}

// CountryPaymentPolicy decides whether a destination country is restricted to
// the redirect payment path.
type CountryPaymentPolicy interface {
	PayPalOnly(country string) bool
}

// CartService manages the persistent shopping cart and builds checkout
// sources from it or from a dealer purchase order.
type CartService interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) (domain.Cart, error)
	SetQuantity(ctx context.Context, userID string, productID string, quantity int) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
	SourceForUser(userID string) CartSource
	SourceForPurchaseOrder(ctx context.Context, dealerID string, poID string) (CartSource, error)
}

// CatalogListFilter narrows catalog listings.
type CatalogListFilter struct {
	CategoryID string
	PlatformID string
	BrandID    string
	ActiveOnly bool
	Page       domain.Pagination
}

// UpsertProductCommand carries admin product writes. The full product body is
// replaced; nested images, colors and add-ons are not patched individually.
type UpsertProductCommand struct {
	Product domain.Product
}

// UpsertBrandCommand carries admin brand writes.
type UpsertBrandCommand struct {
	ID      string
	Name    string
	Slug    string
	LogoRef string
	Active  bool
}

// UpsertCategoryCommand carries admin category writes.
type UpsertCategoryCommand struct {
	ID        string
	Name      string
	Slug      string
	ParentID  string
	SortOrder int
	Active    bool
}

// UpsertPlatformCommand carries admin vehicle-platform writes.
type UpsertPlatformCommand struct {
	ID        string
	Name      string
	Slug      string
	YearStart int
	YearEnd   int
	Active    bool
}

// UpsertVehicleCommand carries admin vehicle writes.
type UpsertVehicleCommand struct {
	ID         string
	PlatformID string
	Make       string
	Model      string
	YearStart  int
	YearEnd    int
}

// CatalogService exposes catalog reads for the storefront and CRUD for the
// admin surface.
type CatalogService interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProducts(ctx context.Context, filter CatalogListFilter) (domain.CursorPage[domain.Product], error)
	ListBrands(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Brand], error)
	ListCategories(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Category], error)
	ListPlatforms(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.VehiclePlatform], error)
	ListVehicles(ctx context.Context, platformID string, page domain.Pagination) (domain.CursorPage[domain.Vehicle], error)
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	UpsertBrand(ctx context.Context, cmd UpsertBrandCommand) (domain.Brand, error)
	UpsertCategory(ctx context.Context, cmd UpsertCategoryCommand) (domain.Category, error)
	UpsertPlatform(ctx context.Context, cmd UpsertPlatformCommand) (domain.VehiclePlatform, error)
	UpsertVehicle(ctx context.Context, cmd UpsertVehicleCommand) (domain.Vehicle, error)
	DeleteBrand(ctx context.Context, id string) error
	DeleteCategory(ctx context.Context, id string) error
	DeletePlatform(ctx context.Context, id string) error
	DeleteVehicle(ctx context.Context, id string) error
}

// UserService exposes profile operations for the /me surface.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) error
	ListPaymentMethods(ctx context.Context, userID string) ([]domain.StoredPaymentMethod, error)
}

// OrderService exposes order reads for the authenticated owner.
type OrderService interface {
	GetOrder(ctx context.Context, userID string, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error)
}
