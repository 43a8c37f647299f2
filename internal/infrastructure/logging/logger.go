package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/mortal-core/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "mortal"

// Logger wraps slog.Logger so components depend on one concrete type.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of the configuration.
//
// Parameters:
//   - cfg: Logging configuration (level, format, output)
//   - version: Build version recorded on every entry
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return NewWithWriter(output, cfg, version)
}

// NewWithWriter is New with an explicit destination. Tests use it to capture output.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps debug, info, warn(ing) and error to slog levels.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// With returns a child Logger carrying additional attributes.
//
// Example:
//
//	menuLog := logger.With("component", "menu")
//	menuLog.Info("tree created", "root_id", id)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default creates a JSON info logger for use before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Discard returns a Logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// TokenHint returns a short, non-secret prefix of a credential for log
// correlation. Raw tokens must never be logged.
func TokenHint(token string) string {
	const keep = 6
	if len(token) <= keep {
		return "***"
	}
	return token[:keep] + "..."
}
