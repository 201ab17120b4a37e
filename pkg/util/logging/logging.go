package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logLevelMapping = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel переводит имя уровня в slog.Level; неизвестное имя даёт info
func ParseLevel(level string) slog.Level {
	logLevel, ok := logLevelMapping[strings.ToLower(level)]
	if !ok {
		return slog.LevelInfo
	}
	return logLevel
}

// New создаёт JSON-логгер процесса. LOG_LEVEL из окружения важнее уровня из конфига.
func New(w io.Writer, level string, attrs ...any) *slog.Logger {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})).With(attrs...)
}

func InitDefault(component, instanceID, level string) *slog.Logger {
	logger := New(os.Stdout, level, "component", component, "instance_id", instanceID)
	slog.SetDefault(logger)
	return logger
}

// Discard: логгер для тестов и библиотечного кода без настроенного вывода
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
