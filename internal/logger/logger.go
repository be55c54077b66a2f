// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context and propagates the
// evaluation cycle ID through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const cycleIDKey ctxKey = "cycle_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit output.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCycleID stores a cycle ID in the context for downstream propagation.
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleIDKey, cycleID)
}

// CycleID extracts the cycle ID from context. Returns "" if not set.
func CycleID(ctx context.Context) string {
	if v, ok := ctx.Value(cycleIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateCycleID creates a cycle ID from a context key and timestamp.
// Format: "{key}-{unixNano}".
func GenerateCycleID(key string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", key, ts.UnixNano())
}

// LogWithCycle returns slog attributes including the cycle ID from context.
// Usage: slog.Info("msg", logger.LogWithCycle(ctx)...)
func LogWithCycle(ctx context.Context) []any {
	id := CycleID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("cycle_id", id)}
}
