package repositories

import (
	"context"

	domain "github.com/axleworks/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	PurchaseOrders() PurchaseOrderRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Dealers() DealerRepository
	Catalog() CatalogRepository
	Users() UserRepository
	PaymentMethods() PaymentMethodRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists per-user shopping carts. Line collections are
// replaced whole, never patched.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// PurchaseOrderRepository reads dealer purchase orders used to seed PO checkouts.
type PurchaseOrderRepository interface {
	FindByID(ctx context.Context, poID string) (domain.DealerPurchaseOrder, error)
	UpdateQuantities(ctx context.Context, poID string, quantities map[string]int) (domain.DealerPurchaseOrder, error)
	MarkSubmitted(ctx context.Context, poID string) error
}

// OrderRepository persists the local order records written after persistence
// confirms a submission.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, orderID string, status string) error
}

// CouponRepository stores coupon definitions consumed by the coupon service.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	Delete(ctx context.Context, couponID string) error
}

// DealerRepository resolves dealer account data, including the negotiated
// discount percentage.
type DealerRepository interface {
	GetDiscountPercent(ctx context.Context, dealerID string) (float64, error)
}

// CatalogListQuery narrows catalog product listings.
type CatalogListQuery struct {
	CategoryID string
	PlatformID string
	BrandID    string
	ActiveOnly bool
	Pager      domain.Pagination
}

// CatalogRepository stores the browsable catalog: products, brands,
// categories, vehicle platforms and vehicles.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, query CatalogListQuery) (domain.CursorPage[domain.Product], error)
	UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, productID string) error

	ListBrands(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Brand], error)
	UpsertBrand(ctx context.Context, brand domain.Brand) (domain.Brand, error)
	DeleteBrand(ctx context.Context, brandID string) error

	ListCategories(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Category], error)
	UpsertCategory(ctx context.Context, category domain.Category) (domain.Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error

	ListPlatforms(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.VehiclePlatform], error)
	UpsertPlatform(ctx context.Context, platform domain.VehiclePlatform) (domain.VehiclePlatform, error)
	DeletePlatform(ctx context.Context, platformID string) error

	ListVehicles(ctx context.Context, platformID string, pager domain.Pagination) (domain.CursorPage[domain.Vehicle], error)
	UpsertVehicle(ctx context.Context, vehicle domain.Vehicle) (domain.Vehicle, error)
	DeleteVehicle(ctx context.Context, vehicleID string) error
}

// UserRepository stores user profile projections.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	Upsert(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
}

// PaymentMethodRepository stores PSP payment method references (never card data).
type PaymentMethodRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.StoredPaymentMethod, error)
	Insert(ctx context.Context, userID string, method domain.StoredPaymentMethod) error
	Delete(ctx context.Context, userID string, methodID string) error
}

// HealthRepository probes downstream connectivity for readiness endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
