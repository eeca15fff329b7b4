package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foodcourt/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one mount point under /api/v1. A group without a registrar answers 501.
type routeGroup struct {
	path        string
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

const (
	groupUsers    = "users"
	groupOrders   = "orders"
	groupPayments = "payments"
	groupWebhooks = "webhooks"
)

// groupOrder fixes the mount order of the API groups.
var groupOrder = []string{groupUsers, groupOrders, groupPayments, groupWebhooks}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (cfg *routerConfig) group(name string) *routeGroup {
	return cfg.groups[name]
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
)

// NewRouter builds the chi router: request id, real ip and timeout first, then the caller's
// middlewares, the health probes and the API groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, name := range groupOrder {
		cfg.groups[name] = &routeGroup{path: "/" + name}
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groupOrder {
			g := cfg.groups[name]
			api.Route(g.path, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.register == nil {
					sub.HandleFunc("/*", notImplemented(name))
					sub.HandleFunc("/", notImplemented(name))
					return
				}
				g.register(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middlewares.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithUserRoutes mounts carts, order placement, history and statistics under /users.
func WithUserRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupUsers).register = reg }
}

// WithOrderRoutes mounts order reads and lifecycle transitions under /orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupOrders).register = reg }
}

// WithPaymentRoutes mounts the publishable key and intent creation under /payments.
func WithPaymentRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupPayments).register = reg }
}

// WithWebhookRoutes mounts gateway callbacks under /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupWebhooks).register = reg }
}

// WithWebhookMiddlewares adds middlewares that only wrap the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupWebhooks)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func notImplemented(group string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", group+" routes not implemented", http.StatusNotImplemented))
	}
}
