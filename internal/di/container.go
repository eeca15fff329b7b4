package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/foodcourt/api/internal/catalog"
	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/handlers"
	"github.com/foodcourt/api/internal/payments"
	"github.com/foodcourt/api/internal/platform/auth"
	"github.com/foodcourt/api/internal/platform/config"
	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/platform/idempotency"
	"github.com/foodcourt/api/internal/platform/jobs"
	"github.com/foodcourt/api/internal/platform/observability"
	"github.com/foodcourt/api/internal/repositories"
	firestoreRepo "github.com/foodcourt/api/internal/repositories/firestore"
	"github.com/foodcourt/api/internal/repositories/memory"
	"github.com/foodcourt/api/internal/repositories/postgres"
	redisRepo "github.com/foodcourt/api/internal/repositories/redis"
	"github.com/foodcourt/api/internal/services"
)

const (
	meterName          = "github.com/foodcourt/api"
	healthProbeTimeout = 2 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Identity      services.IdentityAccess
	Authorization services.AuthorizationGate
	Carts         services.CartService
	Orders        services.OrderService
	Statistics    services.OrderStatisticsService
	Payments      services.PaymentService
	Notifier      services.Notifier
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Services Services
	Router   http.Handler
	// Janitor purges expired idempotency records; main runs it until shutdown.
	Janitor *idempotency.Janitor

	logger  *zap.Logger
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

// Option overrides an external collaborator, mostly for tests and local runs.
type Option func(*options)

type options struct {
	verifier    auth.Verifier
	catalog     services.CatalogLookup
	gateway     services.PaymentGateway
	publisher   services.MessagePublisher
	meter       metric.Meter
	build       handlers.BuildInfo
	middlewares []func(http.Handler) http.Handler
	users       []domain.User
	restaurants []domain.Restaurant
}

// WithVerifier replaces the Firebase/OIDC token verifier.
func WithVerifier(v auth.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithCatalog replaces the configured catalog adapter.
func WithCatalog(c services.CatalogLookup) Option {
	return func(o *options) { o.catalog = c }
}

// WithPaymentGateway replaces the Stripe gateway.
func WithPaymentGateway(g services.PaymentGateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithPublisher replaces the configured notification transport.
func WithPublisher(p services.MessagePublisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMeter sets the OpenTelemetry meter used for service counters.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithBuildInfo sets the version metadata reported by the health endpoints.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithMiddlewares appends global HTTP middlewares after the observability chain.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// WithIdentitySeed upserts users and restaurants into the identity store on startup.
func WithIdentitySeed(users []domain.User, restaurants []domain.Restaurant) Option {
	return func(o *options) {
		o.users = append(o.users, users...)
		o.restaurants = append(o.restaurants, restaurants...)
	}
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far is
// released before returning.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	meter := o.meter
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	metrics, err := observability.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	stores, err := c.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := seedIdentity(ctx, stores, o.users, o.restaurants); err != nil {
		return nil, err
	}

	lookup := o.catalog
	if lookup == nil {
		lookup, err = buildCatalog(cfg.Catalog, logger)
		if err != nil {
			return nil, err
		}
	}

	publisher := o.publisher
	if publisher == nil {
		publisher, err = c.buildPublisher(ctx, cfg.Notifications, logger)
		if err != nil {
			return nil, err
		}
	}

	svc, err := buildServices(cfg, stores, lookup, publisher, metrics, logger)
	if err != nil {
		return nil, err
	}

	gateway := o.gateway
	if gateway == nil && strings.TrimSpace(cfg.Stripe.SecretKey) != "" {
		gateway, err = payments.NewStripeGatewayFromConfig(cfg.Stripe, logger.Named("payments"))
		if err != nil {
			return nil, fmt.Errorf("build stripe gateway: %w", err)
		}
	}
	if gateway != nil {
		svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
			Gateway:        gateway,
			Orders:         svc.Orders,
			Identity:       svc.Identity,
			Notifier:       svc.Notifier,
			PublishableKey: cfg.Stripe.PublishableKey,
			Currency:       cfg.Orders.Currency,
			Logger:         observability.EventLogger(logger.Named("payments"), "payment"),
		})
		if err != nil {
			return nil, fmt.Errorf("build payment service: %w", err)
		}
	} else {
		logger.Warn("stripe secret key not configured; payment routes disabled")
	}
	c.Services = svc

	verifier := o.verifier
	if verifier == nil {
		verifier, err = buildVerifier(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	authenticator := auth.NewAuthenticator(verifier)

	idemStore, err := buildIdempotencyStore(stores.provider)
	if err != nil {
		return nil, err
	}
	idemLogger := logger.Named("idempotency")
	idem := idempotency.Middleware(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idemLogger),
	)
	c.Janitor = &idempotency.Janitor{
		Store:     idemStore,
		Interval:  cfg.Idempotency.CleanupInterval,
		BatchSize: cfg.Idempotency.CleanupBatchSize,
		Logger:    idemLogger,
	}

	probes, err := buildHealthProbes(stores)
	if err != nil {
		return nil, err
	}
	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(o.build)}
	if probes != nil {
		healthOpts = append(healthOpts, handlers.WithHealthProbes(probes))
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}
	middlewares = append(middlewares, o.middlewares...)

	userHandlers := handlers.NewUserHandlers(handlers.UserHandlersDeps{
		Authenticator: authenticator,
		Authorization: svc.Authorization,
		Identity:      svc.Identity,
		Carts:         svc.Carts,
		Orders:        svc.Orders,
		Statistics:    svc.Statistics,
		Idempotency:   idem,
	})
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithUserRoutes(userHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	}
	if svc.Payments != nil {
		paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments, handlers.WithPaymentIdempotency(idem))
		routerOpts = append(routerOpts,
			handlers.WithPaymentRoutes(paymentHandlers.Routes),
			handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
		)
	}
	c.Router = handlers.NewRouter(routerOpts...)

	return c, nil
}

// Close releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if err := closer.fn(ctx); err != nil {
			c.logger.Warn("close error", zap.String("resource", closer.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", closer.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(name string, fn func(context.Context) error) {
	c.closers = append(c.closers, namedCloser{name: name, fn: fn})
}

// storeSet holds the repositories selected for each aggregate.
type storeSet struct {
	carts       repositories.CartRepository
	cartUoW     repositories.UnitOfWork
	orders      repositories.OrderRepository
	orderUoW    repositories.UnitOfWork
	users       repositories.UserRepository
	restaurants repositories.RestaurantRepository

	// separateCarts is set when carts and orders cannot share one transaction.
	separateCarts bool

	provider *pfirestore.Provider
	postgres *postgres.Store
	redis    goredis.UniversalClient
}

func (c *Container) openStores(ctx context.Context, cfg config.Config) (storeSet, error) {
	var set storeSet
	var (
		fs  *firestoreRepo.Store
		mem *memory.Store
	)
	firestoreStore := func() (*firestoreRepo.Store, error) {
		if fs != nil {
			return fs, nil
		}
		set.provider = pfirestore.NewProvider(cfg.Firestore)
		store, err := firestoreRepo.NewStore(set.provider)
		if err != nil {
			return nil, fmt.Errorf("build firestore store: %w", err)
		}
		c.onClose("firestore", store.Close)
		fs = store
		return fs, nil
	}
	memoryStore := func() *memory.Store {
		if mem == nil {
			mem = memory.NewStore()
		}
		return mem
	}

	switch cfg.Stores.Carts {
	case config.StoreFirestore:
		store, err := firestoreStore()
		if err != nil {
			return storeSet{}, err
		}
		set.carts, set.cartUoW = store.Carts(), store
	case config.StoreMemory:
		store := memoryStore()
		set.carts, set.cartUoW = store.Carts(), store
	default:
		return storeSet{}, fmt.Errorf("cart store %q is not supported", cfg.Stores.Carts)
	}

	switch cfg.Stores.Orders {
	case config.StoreFirestore:
		store, err := firestoreStore()
		if err != nil {
			return storeSet{}, err
		}
		set.orders, set.orderUoW = store.Orders(), store
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return storeSet{}, err
		}
		c.onClose("postgres", store.Close)
		set.postgres = store
		set.orders, set.orderUoW = store.Orders(), store
	case config.StoreMemory:
		store := memoryStore()
		set.orders, set.orderUoW = store.Orders(), store
	default:
		return storeSet{}, fmt.Errorf("order store %q is not supported", cfg.Stores.Orders)
	}

	set.separateCarts = cfg.Stores.Carts != cfg.Stores.Orders

	// Users and restaurants live in Firestore whenever a project is configured.
	if fs != nil || strings.TrimSpace(cfg.Firestore.ProjectID) != "" {
		store, err := firestoreStore()
		if err != nil {
			return storeSet{}, err
		}
		set.users, set.restaurants = store.Users(), store.Restaurants()
	} else {
		c.logger.Warn("identity store is in-memory; users and restaurants must be seeded at startup")
		store := memoryStore()
		set.users, set.restaurants = store.Users(), store.Restaurants()
	}

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.onClose("redis", func(context.Context) error { return client.Close() })
		cache, err := redisRepo.NewCartCache(set.carts, set.cartUoW, client,
			redisRepo.WithTTL(cfg.Redis.CartTTL),
			redisRepo.WithLogger(c.logger.Named("cart_cache")),
		)
		if err != nil {
			return storeSet{}, fmt.Errorf("build cart cache: %w", err)
		}
		set.redis = client
		set.carts, set.cartUoW = cache, cache
	}
	return set, nil
}

func seedIdentity(ctx context.Context, stores storeSet, users []domain.User, restaurants []domain.Restaurant) error {
	for _, user := range users {
		if err := stores.users.Upsert(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", user.ID, err)
		}
	}
	for _, restaurant := range restaurants {
		if err := stores.restaurants.Upsert(ctx, restaurant); err != nil {
			return fmt.Errorf("seed restaurant %s: %w", restaurant.ID, err)
		}
	}
	return nil
}

func buildCatalog(cfg config.CatalogConfig, logger *zap.Logger) (services.CatalogLookup, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		logger.Warn("catalog base url not configured; using empty in-memory catalog")
		return catalog.NewStub(), nil
	}
	client, err := catalog.NewHTTPClient(cfg, catalog.WithLogger(logger.Named("catalog")))
	if err != nil {
		return nil, fmt.Errorf("build catalog client: %w", err)
	}
	return client, nil
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.NotificationConfig, logger *zap.Logger) (services.MessagePublisher, error) {
	switch cfg.Transport {
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.onClose("pubsub", func(context.Context) error { return client.Close() })
		publisher, err := jobs.NewPubSubPublisher(client.Topic(cfg.PubSubTopic))
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		c.onClose("pubsub topic", func(context.Context) error {
			publisher.Close()
			return nil
		})
		return publisher, nil
	case config.TransportAMQP:
		publisher, err := jobs.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("build amqp publisher: %w", err)
		}
		c.onClose("amqp", func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return jobs.NewLogPublisher(logger.Named("notifications")), nil
	}
}

func buildServices(cfg config.Config, stores storeSet, lookup services.CatalogLookup, publisher services.MessagePublisher, metrics services.Metrics, logger *zap.Logger) (Services, error) {
	var svc Services

	ident, err := services.NewIdentityAccess(stores.users, stores.restaurants)
	if err != nil {
		return Services{}, fmt.Errorf("build identity access: %w", err)
	}
	authz, err := services.NewAuthorizationGate(ident)
	if err != nil {
		return Services{}, fmt.Errorf("build authorization gate: %w", err)
	}
	svc.Identity, svc.Authorization = ident, authz

	notifier, err := services.NewNotifier(services.NotifierDeps{
		Publisher: publisher,
		Clock:     time.Now,
		Currency:  strings.ToUpper(cfg.Orders.Currency),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notifier: %w", err)
	}
	svc.Notifier = notifier

	events, err := services.NewOrderEventPublisher(publisher)
	if err != nil {
		return Services{}, fmt.Errorf("build order event publisher: %w", err)
	}

	svc.Carts, err = services.NewCartService(services.CartServiceDeps{
		Repository: stores.carts,
		Catalog:    lookup,
		UnitOfWork: stores.cartUoW,
		Metrics:    metrics,
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("cart"), "cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:        stores.orders,
		Carts:         svc.Carts,
		Identity:      ident,
		Authorization: authz,
		UnitOfWork:    stores.orderUoW,
		Metrics:       metrics,
		Clock:         time.Now,
		Events:        events,
		Logger:        observability.EventLogger(logger.Named("order"), "order"),

		CartUnitOfWork:    stores.cartUoW,
		SeparateCartStore: stores.separateCarts,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Statistics, err = services.NewOrderStatisticsService(services.OrderStatisticsServiceDeps{
		Orders:        stores.orders,
		Identity:      ident,
		Authorization: authz,
		Logger:        observability.EventLogger(logger.Named("statistics"), "statistics"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build statistics service: %w", err)
	}
	return svc, nil
}

func buildVerifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (auth.Verifier, error) {
	switch cfg.Security.Verifier {
	case "oidc":
		cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger.Named("auth")))
		return auth.NewOIDCValidator(cache, cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers), nil
	default:
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		return verifier, nil
	}
}

func buildIdempotencyStore(provider *pfirestore.Provider) (idempotency.Store, error) {
	if provider == nil {
		return idempotency.NewMemoryStore(), nil
	}
	store, err := idempotency.NewFirestoreStore(provider, "")
	if err != nil {
		return nil, fmt.Errorf("build idempotency store: %w", err)
	}
	return store, nil
}

func buildHealthProbes(stores storeSet) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if provider := stores.provider; provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: healthProbeTimeout,
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collection("_health").Doc("ping").Get(ctx)
				if status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if pg := stores.postgres; pg != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "postgres", Timeout: healthProbeTimeout, Check: pg.Ping})
	}
	if client := stores.redis; client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: healthProbeTimeout,
			Check:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	if len(checks) == 0 {
		return nil, nil
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
