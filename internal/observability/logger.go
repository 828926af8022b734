package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serviceName = "newswire-engine"

	// CorrelationHeader carries the request correlation id in and out of the API.
	CorrelationHeader = "X-Correlation-ID"
)

type correlationIDKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}

	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	correlationID, _ := ctx.Value(correlationIDKey{}).(string)
	return correlationID, correlationID != ""
}

// EnsureCorrelationID keeps the id already carried by ctx, otherwise it stores
// fallback, or a fresh uuid when fallback is blank.
func EnsureCorrelationID(ctx context.Context, fallback string) (context.Context, string) {
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return ctx, id
	}
	id := strings.TrimSpace(fallback)
	if id == "" {
		id = uuid.NewString()
	}
	return WithCorrelationID(ctx, id), id
}

// WithContextLogger attaches the correlation id carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(zap.String("correlationId", correlationID))
	}
	return logger
}

// CorrelationMiddleware propagates X-Correlation-ID, minting one when the caller sent none.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, correlationID := EnsureCorrelationID(c.UserContext(), c.Get(CorrelationHeader))
		c.Set(CorrelationHeader, correlationID)
		c.SetUserContext(ctx)
		return c.Next()
	}
}
