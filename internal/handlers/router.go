package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/axleworks/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// Middleware is the http.Handler wrapper shape chi expects.
type Middleware = func(http.Handler) http.Handler

// RouteRegistrar registers a group's routes against the provided router.
type RouteRegistrar func(r chi.Router)

// groupOrder fixes the mount order under the API prefix. Groups without a
// registrar answer 501 so clients can tell a disabled surface from a typo.
var groupOrder = []string{"public", "me", "cart", "checkout", "orders", "admin", "webhooks", "internal"}

type routerConfig struct {
	basePath string
	global   []Middleware
	health   *HealthHandlers
	routes   map[string]RouteRegistrar
	groupMW  map[string][]Middleware
}

// Option customises the router before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router with shared middleware, health probes, and
// one mount point per route group.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: apiPrefix,
		global: []Middleware{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		routes:  make(map[string]RouteRegistrar),
		groupMW: make(map[string][]Middleware),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			mountGroup(api, name, cfg.routes[name], cfg.groupMW[name])
		}
	})

	return r
}

func mountGroup(api chi.Router, name string, registrar RouteRegistrar, mws []Middleware) {
	api.Route("/"+name, func(group chi.Router) {
		for _, mw := range mws {
			if mw != nil {
				group.Use(mw)
			}
		}
		if registrar != nil {
			registrar(group)
			return
		}
		placeholder := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
		}
		group.HandleFunc("/*", placeholder)
		group.HandleFunc("/", placeholder)
		group.NotFound(placeholder)
		group.MethodNotAllowed(placeholder)
	})
}

func routesFor(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.routes[name] = reg }
}

// WithMiddlewares appends global middleware applied to every route.
func WithMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithPublicRoutes mounts the unauthenticated catalog endpoints.
func WithPublicRoutes(reg RouteRegistrar) Option { return routesFor("public", reg) }

// WithMeRoutes mounts the user-scoped profile endpoints.
func WithMeRoutes(reg RouteRegistrar) Option { return routesFor("me", reg) }

// WithCartRoutes mounts the cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option { return routesFor("cart", reg) }

// WithCheckoutRoutes mounts the checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return routesFor("checkout", reg) }

// WithOrderRoutes mounts the order history endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return routesFor("orders", reg) }

// WithAdminRoutes mounts the staff catalog management endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return routesFor("admin", reg) }

// WithWebhookRoutes mounts the inbound webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option { return routesFor("webhooks", reg) }

// WithInternalRoutes mounts the service-to-service endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return routesFor("internal", reg) }

// WithWebhookMiddlewares applies middleware to the /webhooks group only.
func WithWebhookMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.groupMW["webhooks"] = append(cfg.groupMW["webhooks"], mw...) }
}

// WithInternalMiddlewares applies middleware to the /internal group only.
func WithInternalMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.groupMW["internal"] = append(cfg.groupMW["internal"], mw...) }
}
