// Package logging provides avapd's operational logger: daemon and
// infrastructure events (catalog sync, envelope rejections, cache
// invalidation, rate-limit degradation) go through Op(), separate
// from the per-invocation records httpapi and logsink persist for
// each /api/v1/execute call.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	opLogger.Store(logger)
}

// Op returns avapd's operational logger, used for everything that
// isn't a per-invocation record: catalog sync outcomes, circuit
// breaker trips, cache invalidation, worker lifecycle.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the operational logger's level directly.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the operational logger's level from the
// --log-level flag / AVAP_LOG_LEVEL env var value.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}
