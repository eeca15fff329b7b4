package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/foodcourt/api/internal/platform/auth"
	"github.com/foodcourt/api/internal/platform/httpx"
	"github.com/foodcourt/api/internal/platform/requestctx"
)

const (
	replayHeaderName = "X-Idempotent-Replay"
	maxKeyLength     = 255
	maxBodyBytes     = 1 << 20
)

// guard is the configured middleware.
type guard struct {
	store   Store
	header  string
	ttl     time.Duration
	methods map[string]bool
	now     func() time.Time
	logger  *zap.Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*guard)

// WithHeader names the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long completed responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the set of guarded methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := map[string]bool{}
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set[m] = true
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithLogger sets the logger used when the request context carries none.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Middleware deduplicates mutating requests that carry an idempotency key. Keys are scoped to the
// authenticated user. A retry of a finished request gets the stored response with
// X-Idempotent-Replay: true; a retry while the first is still running gets 409. 5xx responses are
// not stored so the client can try again.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: "Idempotency-Key",
		ttl:    DefaultTTL,
		methods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(g.header))
			if !g.methods[r.Method] || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, key, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, key string, next http.Handler) {
	ctx := r.Context()
	if len(key) > maxKeyLength {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest))
		return
	}
	body, err := rewindableBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	requester := requesterID(ctx)
	scoped := key + "|" + requester
	fingerprint := requestFingerprint(r, body, requester)
	logger := g.loggerFor(ctx)

	res, err := g.store.Reserve(ctx, scoped, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		logger.Error("idempotency reserve failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	case res.Outcome == OutcomeReplay:
		replay(w, res.Record)
		return
	case res.Outcome == OutcomeInFlight:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	}

	captured := &capture{header: http.Header{}}
	next.ServeHTTP(captured, r)
	g.settle(context.WithoutCancel(ctx), logger, scoped, fingerprint, captured)
	if err := captured.writeTo(w); err != nil {
		logger.Warn("idempotency response write failed", zap.Error(err))
	}
}

// settle stores a finished response, or frees the key when the response must not be replayed or
// cannot be stored.
func (g *guard) settle(ctx context.Context, logger *zap.Logger, key, fingerprint string, c *capture) {
	if c.code() < http.StatusInternalServerError {
		resp := Response{Status: c.code(), Headers: c.header, Body: c.body.Bytes()}
		err := g.store.Complete(ctx, key, fingerprint, resp, g.now().UTC(), g.ttl)
		if err == nil {
			return
		}
		logger.Error("idempotency complete failed", zap.Error(err))
	}
	if err := g.store.Release(ctx, key); err != nil {
		logger.Warn("idempotency release failed", zap.Error(err))
	}
}

func (g *guard) loggerFor(ctx context.Context) *zap.Logger {
	if g.logger != nil && !requestctx.HasLogger(ctx) {
		return g.logger
	}
	return requestctx.Logger(ctx)
}

// rewindableBody reads the body and puts a fresh reader back on r.
func rewindableBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	_ = r.Body.Close()
	switch {
	case err != nil:
		return nil, err
	case len(data) > maxBodyBytes:
		return nil, httpx.ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint identifies the request a key was first used for.
func requestFingerprint(r *http.Request, body []byte, requester string) string {
	bodyHash := ""
	if len(body) > 0 {
		bodyHash = sha256Hex(body)
	}
	parts := []string{r.Method, r.URL.Path, r.URL.RawQuery, requester, bodyHash}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func requesterID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// capture buffers a handler's response so it can be stored before it is sent.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	c.WriteHeader(http.StatusOK)
	return c.body.Write(p)
}

func (c *capture) code() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capture) writeTo(w http.ResponseWriter) error {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.code())
	_, err := w.Write(c.body.Bytes())
	return err
}
