package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	current atomic.Pointer[slog.Logger]
	logFile *os.File
	mu      sync.Mutex
	isSetup bool
)

func init() {
	current.Store(slog.New(newHandler(os.Stderr, slog.LevelWarn)))
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// SetupLogger routes all logging to the given file. Debug records are only
// written when debug is set.
func SetupLogger(logFilePath string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	if isSetup {
		return nil
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logFile = f
	current.Store(slog.New(newHandler(f, level)))
	current.Load().Info("log started", "at", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// SetOutput replaces the destination without a file, mainly for tests and
// for --debug runs without a log file.
func SetOutput(w io.Writer, level slog.Level) {
	current.Store(slog.New(newHandler(w, level)))
}

// CloseLogger closes the log file and restores stderr logging
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		current.Load().Info("log closed", "at", time.Now().Format(time.RFC3339))
		current.Store(slog.New(newHandler(os.Stderr, slog.LevelWarn)))
		logFile.Close()
		logFile = nil
		isSetup = false
	}
}

// Module returns a logger tagged with the module name. It follows later
// calls to SetupLogger, so packages may create it at init time.
func Module(name string) *slog.Logger {
	return slog.New(&moduleHandler{
		wrap: []func(slog.Handler) slog.Handler{
			func(h slog.Handler) slog.Handler {
				return h.WithAttrs([]slog.Attr{slog.String("module", name)})
			},
		},
	})
}

// moduleHandler resolves the active handler on every record
type moduleHandler struct {
	wrap []func(slog.Handler) slog.Handler
}

func (h *moduleHandler) resolve() slog.Handler {
	base := current.Load().Handler()
	for _, w := range h.wrap {
		base = w(base)
	}
	return base
}

func (h *moduleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current.Load().Handler().Enabled(ctx, level)
}

func (h *moduleHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *moduleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(base slog.Handler) slog.Handler { return base.WithAttrs(attrs) })
}

func (h *moduleHandler) WithGroup(name string) slog.Handler {
	return h.with(func(base slog.Handler) slog.Handler { return base.WithGroup(name) })
}

func (h *moduleHandler) with(w func(slog.Handler) slog.Handler) *moduleHandler {
	wrap := make([]func(slog.Handler) slog.Handler, len(h.wrap), len(h.wrap)+1)
	copy(wrap, h.wrap)
	return &moduleHandler{wrap: append(wrap, w)}
}

// LogInfo logs an information message with key/value attributes
func LogInfo(msg string, args ...any) {
	current.Load().Info(msg, args...)
}

// DebugLog logs a message that is only kept in debug mode
func DebugLog(msg string, args ...any) {
	current.Load().Debug(msg, args...)
}

// LogError logs an error message
func LogError(msg string, args ...any) {
	current.Load().Error(msg, args...)
}

// LogWarning logs a warning message
func LogWarning(msg string, args ...any) {
	current.Load().Warn(msg, args...)
}

// LogImageProcessed logs the outcome of extracting one image
func LogImageProcessed(path string, success bool, errMsg string) {
	if success {
		current.Load().Debug("processed", "path", path)
		return
	}
	current.Load().Warn("failed", "path", path, "error", errMsg)
}
