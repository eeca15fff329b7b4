// Package config loads the service configuration from the environment, an optional dotenv file and
// Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultVerifier             = "firebase"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultStoreBackend         = "firestore"
	defaultPostgresMaxConns     = 10
	defaultRedisCartTTL         = 30 * time.Minute
	defaultCatalogTimeout       = 5 * time.Second
	defaultCatalogTripAfter     = 5
	defaultCatalogOpenTimeout   = 30 * time.Second
	defaultNotifyTransport      = "log"
	defaultAMQPExchange         = "food-ordering"
	defaultOrderCurrency        = "usd"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Store backend names accepted by API_CART_STORE and API_ORDER_STORE.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

// Notification transports accepted by API_NOTIFY_TRANSPORT.
const (
	TransportLog    = "log"
	TransportPubSub = "pubsub"
	TransportAMQP   = "amqp"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Stores        StoreConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Catalog       CatalogConfig
	Stripe        StripeConfig
	Notifications NotificationConfig
	Orders        OrderConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the persistence backend per aggregate.
type StoreConfig struct {
	Carts  string
	Orders string
}

// PostgresConfig configures the pgx pool used by the postgres order store.
type PostgresConfig struct {
	URL            string
	MaxConns       int
	MigrateOnStart bool
}

// RedisConfig configures the optional cart cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CartTTL  time.Duration
}

// CatalogConfig points at the menu service. An empty BaseURL selects the in-memory catalog.
type CatalogConfig struct {
	BaseURL     string
	Timeout     time.Duration
	TripAfter   int
	OpenTimeout time.Duration
}

// StripeConfig collects payment gateway credentials.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

// NotificationConfig selects and configures the notification transport.
type NotificationConfig struct {
	Transport       string
	PubSubProjectID string
	PubSubTopic     string
	AMQPURL         string
	AMQPExchange    string
}

// OrderConfig holds order-level settings.
type OrderConfig struct {
	Currency string
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	Verifier    string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}


// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	systemEnv       bool
	resolver        SecretResolver
	requiredSecrets []string
	panicOnMissing  bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile sets the dotenv file. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.systemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names secret fields, such as "Stripe.SecretKey", that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissing = true }
}

// Load reads the configuration. Explicit values win over the process environment, which wins over
// the dotenv file.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	env, err := openSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Stores: StoreConfig{
			Carts:  env.lower("API_CART_STORE", defaultStoreBackend),
			Orders: env.lower("API_ORDER_STORE", defaultStoreBackend),
		},
		Postgres: PostgresConfig{
			URL:            env.str("API_POSTGRES_URL", ""),
			MaxConns:       env.integer("API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			MigrateOnStart: env.boolean("API_POSTGRES_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     env.str("API_REDIS_ADDR", ""),
			Password: env.str("API_REDIS_PASSWORD", ""),
			DB:       env.integer("API_REDIS_DB", 0),
			CartTTL:  env.duration("API_REDIS_CART_TTL", defaultRedisCartTTL),
		},
		Catalog: CatalogConfig{
			BaseURL:     env.str("API_CATALOG_BASE_URL", ""),
			Timeout:     env.duration("API_CATALOG_TIMEOUT", defaultCatalogTimeout),
			TripAfter:   env.integer("API_CATALOG_BREAKER_TRIP_AFTER", defaultCatalogTripAfter),
			OpenTimeout: env.duration("API_CATALOG_BREAKER_OPEN_TIMEOUT", defaultCatalogOpenTimeout),
		},
		Stripe: StripeConfig{
			SecretKey:      env.str("API_STRIPE_SECRET_KEY", ""),
			PublishableKey: env.str("API_STRIPE_PUBLISHABLE_KEY", ""),
			WebhookSecret:  env.str("API_STRIPE_WEBHOOK_SECRET", ""),
		},
		Notifications: NotificationConfig{
			Transport:       env.lower("API_NOTIFY_TRANSPORT", defaultNotifyTransport),
			PubSubProjectID: env.str("API_NOTIFY_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     env.str("API_NOTIFY_PUBSUB_TOPIC", ""),
			AMQPURL:         env.str("API_NOTIFY_AMQP_URL", ""),
			AMQPExchange:    env.str("API_NOTIFY_AMQP_EXCHANGE", defaultAMQPExchange),
		},
		Orders: OrderConfig{
			Currency: env.lower("API_ORDER_CURRENCY", defaultOrderCurrency),
		},
		Security: SecurityConfig{
			Environment: env.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			Verifier:    env.lower("API_SECURITY_VERIFIER", defaultVerifier),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.keyValues("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
	cfg.applyDerivedDefaults()

	resolved, err := resolveSecretFields(ctx, &cfg, o.resolver)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(o.requiredSecrets, resolved); missing != nil {
		if o.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerivedDefaults fills values that default to other settings.
func (c *Config) applyDerivedDefaults() {
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = c.Firebase.ProjectID
	}
	if c.Notifications.PubSubProjectID == "" {
		c.Notifications.PubSubProjectID = c.Firebase.ProjectID
	}
	if len(c.Security.OIDC.Issuers) == 0 {
		c.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if c.Security.OIDC.Audience == "" {
		c.Security.OIDC.Audience = c.Security.OIDC.Audiences[c.Security.Environment]
	}
}

// secretFields lists the fields that may hold secret:// references, keyed by the names accepted
// by WithRequiredSecrets.
func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"Stripe.SecretKey":      &c.Stripe.SecretKey,
		"Stripe.WebhookSecret":  &c.Stripe.WebhookSecret,
		"Postgres.URL":          &c.Postgres.URL,
		"Redis.Password":        &c.Redis.Password,
		"Notifications.AMQPURL": &c.Notifications.AMQPURL,
	}
}

func (c Config) validate() error {
	var invalid []string
	require := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	require(c.Server.Port != "", "Server.Port")
	switch c.Security.Verifier {
	case "firebase":
		require(c.Firebase.ProjectID != "", "Firebase.ProjectID")
	case "oidc":
		require(c.Security.OIDC.Audience != "", "Security.OIDC.Audience")
	default:
		invalid = append(invalid, "Security.Verifier")
	}

	backends := map[string]bool{}
	for field, backend := range map[string]string{"Stores.Carts": c.Stores.Carts, "Stores.Orders": c.Stores.Orders} {
		switch backend {
		case StoreFirestore, StorePostgres, StoreMemory:
			backends[backend] = true
		default:
			invalid = append(invalid, field)
		}
	}
	require(!backends[StoreFirestore] || c.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(!backends[StorePostgres] || c.Postgres.URL != "", "Postgres.URL")
	require(c.Postgres.MaxConns > 0, "Postgres.MaxConns")
	require(c.Redis.Addr == "" || c.Redis.CartTTL > 0, "Redis.CartTTL")
	require(c.Catalog.TripAfter > 0, "Catalog.TripAfter")

	switch c.Notifications.Transport {
	case TransportLog:
	case TransportPubSub:
		require(c.Notifications.PubSubTopic != "", "Notifications.PubSubTopic")
		require(c.Notifications.PubSubProjectID != "", "Notifications.PubSubProjectID")
	case TransportAMQP:
		require(c.Notifications.AMQPURL != "", "Notifications.AMQPURL")
	default:
		invalid = append(invalid, "Notifications.Transport")
	}

	require(len(c.Orders.Currency) == 3, "Orders.Currency")
	require(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")
	require(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return &ValidationError{fields: invalid}
}

// ValidationError lists missing or invalid configuration fields.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: missing or invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

// Fields returns the offending field names, sorted.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}
