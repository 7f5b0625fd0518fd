package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/screa/hook-salt-miner/pkg/types"
)

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
}

// New creates a new text logger on stdout at info level
func New() *Logger {
	return NewWriter(os.Stdout, "info", "text")
}

// NewWriter creates a new logger that writes to the provided writer
func NewWriter(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...)}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// WithRequest returns a logger annotated with the identifying fields of req
func (l *Logger) WithRequest(req *types.MiningRequest) *Logger {
	return l.WithFields(
		"factory", req.Factory.Hex(),
		"token", req.Token.Hex(),
		"user", req.User.Hex(),
		"max_attempts", req.MaxAttempts,
	)
}
