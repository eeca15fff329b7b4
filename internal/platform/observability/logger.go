// Package observability holds the logging, tracing and metrics plumbing of the HTTP service.
package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/foodcourt/api/internal/platform/requestctx"
)

// cloudSeverity maps zap levels onto Cloud Logging severities.
var cloudSeverity = map[zapcore.Level]string{
	zapcore.DebugLevel:  "DEBUG",
	zapcore.InfoLevel:   "INFO",
	zapcore.WarnLevel:   "WARNING",
	zapcore.ErrorLevel:  "ERROR",
	zapcore.DPanicLevel: "CRITICAL",
	zapcore.PanicLevel:  "ALERT",
	zapcore.FatalLevel:  "EMERGENCY",
}

func encodeSeverity(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if name, ok := cloudSeverity[level]; ok {
		enc.AppendString(name)
		return
	}
	enc.AppendString(strings.ToUpper(level.String()))
}

// NewLogger builds a JSON logger on stdout that Cloud Logging parses natively. LOG_LEVEL picks the
// minimum level; anything unparsable means info.
func NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeLevel = encodeSeverity
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg.Build()
}

// WithLogger stores logger on ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext returns the logger on ctx, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger adapts zap to the event hook the services accept. Events go to the request logger
// when ctx carries one and to fallback otherwise, always at debug level.
func EventLogger(fallback *zap.Logger, component string) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	base := zap.String("component", component)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := fallback
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}
		if ce := logger.Check(zapcore.DebugLevel, component+" event"); ce != nil {
			zfields := []zap.Field{base, zap.String("event", event)}
			for key, value := range fields {
				zfields = append(zfields, zap.Any(key, value))
			}
			ce.Write(zfields...)
		}
	}
}
