// Package secrets resolves secret:// references against Google Secret Manager with an in-process
// cache and a local fallback file for development.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFallbackPath = ".secrets.local"

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. It satisfies config.SecretResolver.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group

	lookups metric.Int64Counter
}

type fetcherConfig struct {
	logger       *zap.Logger
	projectID    string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithProject sets the project used when a reference has no ?project= override.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a preconfigured Secret Manager client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. When the Secret Manager client cannot be created the fetcher runs
// in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{logger: zap.NewNop(), fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.Meter("github.com/foodcourt/api/internal/platform/secrets")
	}
	lookups, err := meter.Int64Counter("secrets.lookups", metric.WithDescription("Secret resolutions by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}

	f := &Fetcher{
		logger:       cfg.logger,
		projectID:    cfg.projectID,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
		lookups:      lookups,
	}
	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}
	if f.projectID == "" {
		return f, nil
	}
	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager client unavailable; using fallback file", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref, consulting the cache, Secret Manager and the fallback
// file in that order. Concurrent lookups of the same reference share one remote call.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.key()

	f.mu.RLock()
	value, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, "cache")
		return value, nil
	}

	result, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, parsed)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[key] = value
		f.mu.Unlock()
		f.record(ctx, source)
		return value, nil
	})
	if err != nil {
		f.record(ctx, "error")
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached value for ref so the next Resolve fetches it again.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, parsed.key())
	f.mu.Unlock()
}

func (f *Fetcher) load(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.projectID
	}
	if f.client != nil && project != "" {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: empty payload for %s", ref.canonical)
		case !isFallbackError(err):
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("ref", ref.canonical), zap.Error(err))
	}

	f.fallbackOnce.Do(f.readFallback)
	if f.fallbackErr != nil {
		return "", "", f.fallbackErr
	}
	if value, ok := f.fallbackVals[ref.key()]; ok {
		return value, "fallback", nil
	}
	if value, ok := f.fallbackVals[ref.canonical]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("secrets: %s not found", ref.canonical)
}

func (f *Fetcher) readFallback() {
	f.fallbackVals = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	path, err := filepath.Abs(f.fallbackPath)
	if err != nil {
		path = f.fallbackPath
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawKey, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parsed, err := parseReference(strings.TrimSpace(rawKey))
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		f.fallbackVals[parsed.canonical] = value
		f.fallbackVals[parsed.key()] = value
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
}

func (f *Fetcher) record(ctx context.Context, source string) {
	f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r reference) key() string { return r.canonical + "#" + r.version }

// parseReference accepts secret://name[?version=N&project=P]. The legacy sm:// scheme is normalised.
func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if strings.HasPrefix(raw, "sm://") {
		raw = "secret://" + strings.TrimPrefix(raw, "sm://")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		canonical: "secret://" + name,
		name:      strings.ReplaceAll(name, "/", "_"),
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}
