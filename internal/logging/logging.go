// Package logging provides structured logging for the tracelens application.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, component-based loggers and an
// optional size-rotated log file.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format to stderr
//	logging.InitFile(logging.FileOptions{Path: "/var/log/tracelens.log"}, slog.LevelInfo, true)
//
//	// Get a component logger
//	log := logging.Component("trace")
//	log.Warn("skipping invalid line", "line", 12, "reason", "not enough fields")
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// level is shared by every handler Init creates, so SetLevel takes effect
// without rebuilding the logger.
var level = new(slog.LevelVar)

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
// Output goes to stderr so that reports written to stdout stay clean.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter initializes the global logger writing to w.
func InitWriter(w io.Writer, lvl slog.Level, jsonFormat bool) {
	var handler slog.Handler

	level.Set(lvl)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: lvl == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// SetLevel changes the level of the logger created by Init.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// FileOptions configures a rotated log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// InitFile initializes the global logger writing to a rotated file.
// The returned closer flushes and closes the file.
func InitFile(fo FileOptions, level slog.Level, jsonFormat bool) io.Closer {
	lj := &lumberjack.Logger{
		Filename:   fo.Path,
		MaxSize:    fo.MaxSizeMB,
		MaxBackups: fo.MaxBackups,
		MaxAge:     fo.MaxAgeDays,
		Compress:   fo.Compress,
	}
	InitWriter(lj, level, jsonFormat)
	return lj
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
// Unknown names yield info.
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

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// The returned logger resolves the global logger on every call, so package
// level loggers created before Init still honor the configured handler.
func Component(name string) *slog.Logger {
	return slog.New(&componentHandler{name: name})
}

// componentHandler forwards to the current global handler.
type componentHandler struct {
	name  string
	attrs []slog.Attr
	group string
}

func (h *componentHandler) target() slog.Handler {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	th := Logger.Handler().WithAttrs([]slog.Attr{slog.String("component", h.name)})
	if len(h.attrs) > 0 {
		th = th.WithAttrs(h.attrs)
	}
	if h.group != "" {
		th = th.WithGroup(h.group)
	}
	return th
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.target().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &n
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	n := *h
	n.group = name
	return &n
}

// WithContext returns a logger that includes context values.
// This is useful for request-scoped logging with request IDs.
func WithContext(ctx context.Context) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}

	logger := Logger

	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	if traceName, ok := ctx.Value(contextKeyTrace).(string); ok {
		logger = logger.With("trace", traceName)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRequestID contextKey = iota
	contextKeyTrace
)

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// ContextWithTrace adds a trace file name to the context for logging.
func ContextWithTrace(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKeyTrace, name)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Error(msg, args...)
}
