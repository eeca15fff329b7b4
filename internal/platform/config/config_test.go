package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "food-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "food-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Stores.Carts != StoreFirestore || cfg.Stores.Orders != StoreFirestore {
		t.Errorf("expected firestore stores by default, got %+v", cfg.Stores)
	}
	if cfg.Notifications.Transport != TransportLog {
		t.Errorf("expected log transport, got %s", cfg.Notifications.Transport)
	}
	if cfg.Notifications.PubSubProjectID != "food-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.Notifications.PubSubProjectID)
	}
	if cfg.Orders.Currency != "usd" {
		t.Errorf("expected usd, got %s", cfg.Orders.Currency)
	}
	if cfg.Catalog.TripAfter != defaultCatalogTripAfter {
		t.Errorf("unexpected breaker threshold %d", cfg.Catalog.TripAfter)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis cache disabled, got %s", cfg.Redis.Addr)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.Verifier != "firebase" {
		t.Errorf("expected firebase verifier, got %s", cfg.Security.Verifier)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_FIREBASE_PROJECT_ID":          "food-prod",
		"API_CART_STORE":                   "memory",
		"API_ORDER_STORE":                  "Postgres",
		"API_POSTGRES_URL":                 "secret://db/url",
		"API_POSTGRES_MAX_CONNS":           "25",
		"API_REDIS_ADDR":                   "localhost:6379",
		"API_REDIS_CART_TTL":               "5m",
		"API_CATALOG_BASE_URL":             "http://catalog.internal",
		"API_CATALOG_BREAKER_TRIP_AFTER":   "3",
		"API_STRIPE_SECRET_KEY":            "secret://stripe/api",
		"API_STRIPE_WEBHOOK_SECRET":        "secret://stripe/webhook",
		"API_STRIPE_PUBLISHABLE_KEY":       "pk_test_123",
		"API_NOTIFY_TRANSPORT":             "amqp",
		"API_NOTIFY_AMQP_URL":              "secret://amqp/url",
		"API_ORDER_CURRENCY":               "EUR",
		"API_SECURITY_ENVIRONMENT":         "prod",
		"API_SECURITY_OIDC_AUDIENCES":      "prod=https://orders.example.com",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
	}

	secrets := map[string]string{
		"secret://db/url":         "postgres://orders@db/orders",
		"secret://stripe/api":     "sk_test_abc",
		"secret://stripe/webhook": "whsec_abc",
		"secret://amqp/url":       "amqp://guest:guest@mq:5672/",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Stores.Carts != StoreMemory || cfg.Stores.Orders != StorePostgres {
		t.Errorf("unexpected stores %+v", cfg.Stores)
	}
	if cfg.Postgres.URL != "postgres://orders@db/orders" {
		t.Errorf("expected resolved postgres url, got %s", cfg.Postgres.URL)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("unexpected max conns %d", cfg.Postgres.MaxConns)
	}
	if cfg.Redis.CartTTL != 5*time.Minute {
		t.Errorf("unexpected cart ttl %s", cfg.Redis.CartTTL)
	}
	if cfg.Catalog.BaseURL != "http://catalog.internal" || cfg.Catalog.TripAfter != 3 {
		t.Errorf("unexpected catalog config %+v", cfg.Catalog)
	}
	if cfg.Stripe.SecretKey != "sk_test_abc" || cfg.Stripe.WebhookSecret != "whsec_abc" {
		t.Errorf("expected resolved stripe secrets, got %+v", cfg.Stripe)
	}
	if cfg.Notifications.AMQPURL != "amqp://guest:guest@mq:5672/" {
		t.Errorf("expected resolved amqp url, got %s", cfg.Notifications.AMQPURL)
	}
	if cfg.Orders.Currency != "eur" {
		t.Errorf("expected lower-cased currency, got %s", cfg.Orders.Currency)
	}
	if cfg.Security.OIDC.Audience != "https://orders.example.com" {
		t.Errorf("expected audience from environment map, got %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=food-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "food-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !slices.Contains(validation.Fields(), "Firebase.ProjectID") {
		t.Fatalf("expected Firebase.ProjectID in %v", validation.Fields())
	}
}

func TestLoadRejectsBackendMisconfiguration(t *testing.T) {
	cases := map[string]struct {
		env   map[string]string
		field string
	}{
		"unknown store": {
			env:   map[string]string{"API_ORDER_STORE": "cassandra"},
			field: "Stores.Orders",
		},
		"postgres without url": {
			env:   map[string]string{"API_ORDER_STORE": "postgres"},
			field: "Postgres.URL",
		},
		"pubsub without topic": {
			env:   map[string]string{"API_NOTIFY_TRANSPORT": "pubsub"},
			field: "Notifications.PubSubTopic",
		},
		"amqp without url": {
			env:   map[string]string{"API_NOTIFY_TRANSPORT": "amqp"},
			field: "Notifications.AMQPURL",
		},
		"unknown transport": {
			env:   map[string]string{"API_NOTIFY_TRANSPORT": "smtp"},
			field: "Notifications.Transport",
		},
		"oidc without audience": {
			env:   map[string]string{"API_SECURITY_VERIFIER": "oidc"},
			field: "Security.OIDC.Audience",
		},
		"bad currency": {
			env:   map[string]string{"API_ORDER_CURRENCY": "dollars"},
			field: "Orders.Currency",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := map[string]string{"API_FIREBASE_PROJECT_ID": "food-dev"}
			for k, v := range tc.env {
				env[k] = v
			}
			_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !slices.Contains(validation.Fields(), tc.field) {
				t.Fatalf("expected %s in %v", tc.field, validation.Fields())
			}
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "food-dev",
		"API_STRIPE_SECRET_KEY":   "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "food-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.WebhookSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Stripe.WebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "food-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Stripe.SecretKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.SecretKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "food-dev",
		"API_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://stripe/webhook" {
			return "whsec_legacy", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Stripe.WebhookSecret != "whsec_legacy" {
		t.Fatalf("expected legacy secret, got %s", cfg.Stripe.WebhookSecret)
	}
}
