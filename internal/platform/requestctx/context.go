// Package requestctx carries per-request values shared by middlewares, handlers and services.
package requestctx

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
	actorKey  struct{}
	slotKey   struct{}
)

// actorSlot lets outer middlewares observe an actor recorded further down the handler chain.
type actorSlot struct {
	mu    sync.Mutex
	actor Actor
	set   bool
}

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Actor identifies who issued the request for logging and audit fields.
type Actor struct {
	UserID   string
	Username string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithActor records the authenticated caller. Blank actors leave ctx untouched.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	actor.UserID = strings.TrimSpace(actor.UserID)
	actor.Username = strings.TrimSpace(actor.Username)
	if actor.UserID == "" && actor.Username == "" {
		return ctx
	}
	if slot, ok := ctx.Value(slotKey{}).(*actorSlot); ok {
		slot.mu.Lock()
		slot.actor, slot.set = actor, true
		slot.mu.Unlock()
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// WithActorSlot prepares ctx so that ActorFrom on it also sees actors recorded on derived contexts.
func WithActorSlot(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, slotKey{}, &actorSlot{})
}

// ActorFrom returns the caller recorded by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
		return actor, true
	}
	if slot, ok := ctx.Value(slotKey{}).(*actorSlot); ok {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		return slot.actor, slot.set
	}
	return Actor{}, false
}

// HasLogger reports whether a logger was stored with WithLogger.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return ok && logger != nil && logger != noopLogger
}
