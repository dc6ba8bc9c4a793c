package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axleworks/api/internal/payments"
	"github.com/axleworks/api/internal/platform/config"
	"github.com/axleworks/api/internal/repositories"
	"github.com/axleworks/api/internal/services"
)

// Services bundles the repository-backed service contracts that handlers rely
// upon. Transport-facing collaborators (shipping, tax, order gateway, PayPal)
// are wired separately because they depend on upstream clients.
type Services struct {
	Cart    services.CartService
	Catalog services.CatalogService
	Coupons services.CouponService
	Dealers services.DealerDiscountService
	Orders  services.OrderService
	Users   services.UserService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// the Firestore registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		PurchaseOrders:  reg.PurchaseOrders(),
		Clock:           time.Now,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Clock:   time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	dealerSvc, err := services.NewDealerDiscountService(services.DealerDiscountServiceDeps{
		Dealers: reg.Dealers(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build dealer discount service: %w", err)
	}
	svc.Dealers = dealerSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: reg.Orders(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	var verifier services.PaymentMethodVerifier
	if cfg.PSP.StripeAPIKey != "" {
		stripeVerifier, err := payments.NewStripePaymentMethodVerifier(payments.StripeConfig{
			APIKey: cfg.PSP.StripeAPIKey,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stripe verifier: %w", err)
		}
		verifier = stripeVerifier
	}

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:          reg.Users(),
		PaymentMethods: reg.PaymentMethods(),
		Verifier:       verifier,
		Clock:          time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	return svc, nil
}
