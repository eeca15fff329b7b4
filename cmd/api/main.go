package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/foodcourt/api/internal/di"
	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/handlers"
	"github.com/foodcourt/api/internal/platform/auth"
	"github.com/foodcourt/api/internal/platform/config"
	"github.com/foodcourt/api/internal/platform/observability"
	"github.com/foodcourt/api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	opts := []di.Option{di.WithBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt))}
	if path := strings.TrimSpace(envValues["API_IDENTITY_SEED_FILE"]); path != "" {
		users, restaurants, err := loadIdentitySeed(path)
		if err != nil {
			logger.Fatal("failed to read identity seed", zap.String("path", path), zap.Error(err))
		}
		opts = append(opts, di.WithIdentitySeed(users, restaurants))
	}

	container, err := di.NewContainer(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		container.Janitor.Run(cleanupCtx)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(container.Router, "foodcourt-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("foodcourt api listening",
			zap.String("cartStore", cfg.Stores.Carts),
			zap.String("orderStore", cfg.Stores.Orders),
			zap.String("notifyTransport", cfg.Notifications.Transport),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	project := secretProjectMapFromEnv(env)[envLabel]
	if project == "" {
		project = lookup("API_SECRET_DEFAULT_PROJECT_ID")
	}
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields the selected backends cannot run without.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_STRIPE_SECRET_KEY"]) != "" {
		required = append(required, "Stripe.SecretKey", "Stripe.WebhookSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_ORDER_STORE"]), config.StorePostgres) {
		required = append(required, "Postgres.URL")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_NOTIFY_TRANSPORT"]), config.TransportAMQP) {
		required = append(required, "Notifications.AMQPURL")
	}
	return required
}

// secretProjectMapFromEnv parses API_SECRET_PROJECT_IDS ("prod=proj-a,stg=proj-b").
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for label, project := range parseKeyValueList(env["API_SECRET_PROJECT_IDS"]) {
		projects[strings.ToLower(label)] = project
	}
	return projects
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

type identitySeed struct {
	Users []struct {
		ID       string   `json:"id"`
		Username string   `json:"username"`
		Email    string   `json:"email"`
		Roles    []string `json:"roles"`
	} `json:"users"`
	Restaurants []struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		ContactEmail string   `json:"contactEmail"`
		AdminUserIDs []string `json:"adminUserIds"`
	} `json:"restaurants"`
}

// loadIdentitySeed reads users and restaurants for deployments whose identity store is in-memory.
func loadIdentitySeed(path string) ([]domain.User, []domain.Restaurant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var seed identitySeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	users := make([]domain.User, 0, len(seed.Users))
	for _, u := range seed.Users {
		user := domain.User{ID: u.ID, Username: u.Username, Email: u.Email}
		for _, name := range u.Roles {
			role, ok := auth.ParseRole(name)
			if !ok {
				return nil, nil, fmt.Errorf("user %s: unknown role %q", u.ID, name)
			}
			user.Roles = append(user.Roles, role)
		}
		users = append(users, user)
	}
	restaurants := make([]domain.Restaurant, 0, len(seed.Restaurants))
	for _, r := range seed.Restaurants {
		restaurants = append(restaurants, domain.Restaurant{
			ID:           r.ID,
			Name:         r.Name,
			ContactEmail: r.ContactEmail,
			AdminUserIDs: r.AdminUserIDs,
		})
	}
	return users, restaurants, nil
}
