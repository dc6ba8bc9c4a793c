package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/repositories"
)

// Registry bundles all Firestore-backed repositories behind the typed
// accessor interface used for dependency injection.
type Registry struct {
	provider *pfirestore.Provider

	carts          *CartRepository
	purchaseOrders *PurchaseOrderRepository
	orders         *OrderRepository
	coupons        *CouponRepository
	dealers        *DealerRepository
	catalog        *CatalogRepository
	users          *UserRepository
	paymentMethods *PaymentMethodRepository
	health         repositories.HealthRepository
}

// NewRegistry constructs every Firestore repository against a shared
// provider. Extra dependency checks (Redis, outbound gateways) join the
// built-in Firestore probe in the health repository.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	purchaseOrders, err := NewPurchaseOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	dealers, err := NewDealerRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	paymentMethods, err := NewPaymentMethodRepository(provider)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
	}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:       provider,
		carts:          carts,
		purchaseOrders: purchaseOrders,
		orders:         orders,
		coupons:        coupons,
		dealers:        dealers,
		catalog:        catalog,
		users:          users,
		paymentMethods: paymentMethods,
		health:         health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// PurchaseOrders returns the purchase order repository.
func (r *Registry) PurchaseOrders() repositories.PurchaseOrderRepository { return r.purchaseOrders }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// Dealers returns the dealer repository.
func (r *Registry) Dealers() repositories.DealerRepository { return r.dealers }

// Catalog returns the catalog repository.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// PaymentMethods returns the payment method repository.
func (r *Registry) PaymentMethods() repositories.PaymentMethodRepository { return r.paymentMethods }

// Health returns the health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository operations in one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
