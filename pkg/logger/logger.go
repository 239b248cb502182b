// Package logger provides structured logging with context support.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LevelCritical is used for incident creation and other events that must
// page a human. slog has no built-in level above Error, so we claim the
// next slot up.
const LevelCritical = slog.Level(12)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	incidentIDKey contextKey = "incident_id"
)

// Config holds the logger configuration.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    "json",
		Output:    os.Stdout,
		AddSource: false,
	}
}

// Logger wraps slog.Logger with additional context-aware methods.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given configuration.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: renameCritical,
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Critical logs at LevelCritical.
func (l *Logger) Critical(msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}

// CriticalContext logs at LevelCritical with a context.
func (l *Logger) CriticalContext(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, LevelCritical, msg, args...)
}

// WithContext returns a logger with values from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := []any{}

	if requestID := ctx.Value(requestIDKey); requestID != nil {
		attrs = append(attrs, "request_id", requestID)
	}
	if incidentID := ctx.Value(incidentIDKey); incidentID != nil {
		attrs = append(attrs, "incident_id", incidentID)
	}

	if len(attrs) == 0 {
		return l
	}

	return &Logger{
		Logger: l.Logger.With(attrs...),
	}
}

// With returns a new Logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component returns a logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// SetDefault sets this logger as the default slog logger.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

// Context helpers

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithIncidentID adds an incident ID to the context.
func ContextWithIncidentID(ctx context.Context, incidentID string) context.Context {
	return context.WithValue(ctx, incidentIDKey, incidentID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// IncidentIDFromContext extracts the incident ID from context.
func IncidentIDFromContext(ctx context.Context) string {
	if incidentID, ok := ctx.Value(incidentIDKey).(string); ok {
		return incidentID
	}
	return ""
}

// renameCritical rewrites the level attribute for records at or above
// LevelCritical so they render as CRITICAL instead of ERROR+4.
func renameCritical(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level >= LevelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

// Helper to parse log level from string.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
