// Package observability builds the structured loggers used across the
// service.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/masq"

	"github.com/np-widget/backend/internal/config"
)

// NewLogger creates a logger writing to stderr. Artwork payloads and any
// of the given secrets are redacted from every record.
func NewLogger(cfg config.LoggingConfig, secrets ...string) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr, secrets...)
}

// NewLoggerWithWriter creates a logger that writes to the provided writer.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer, secrets ...string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactor(secrets),
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func redactor(secrets []string) func([]string, slog.Attr) slog.Attr {
	options := []masq.Option{
		masq.WithFieldName("Data"),
		masq.WithFieldName("auth_token"),
		masq.WithFieldName("token"),
	}
	for _, s := range secrets {
		if s != "" {
			options = append(options, masq.WithContain(s))
		}
	}
	return masq.New(options...)
}

// ParseLevel converts a string log level to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component name to the logger.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
