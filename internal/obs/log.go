package obs

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// Logger returns the shared structured JSON logger used across the service.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = newLogger(slog.LevelInfo)
		}
	})
	return logger
}

// SetLevel replaces the shared logger with one filtering below the given
// level. Call before the first Logger() use.
func SetLevel(level string) {
	logger = newLogger(parseLevel(level))
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
