package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/convai/dialog-router/internal/shared"
)

// sensitiveKeyTokens names the log attribute keys this logger always
// redacts outright: bot tokens are the dialog router's only long-lived
// credential, and they show up under any of these field names across
// internal/botgw, internal/humangw and internal/messenger/telegram.
var sensitiveKeyTokens = []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}

// NewLogger builds the process-wide structured logger: JSON lines written
// to homeDir/logs/system.jsonl, and also to stdout unless quiet. Every
// attribute value passes through bot-token and secret redaction before it
// is written, so a bot's token or a Telegram auth header logged by
// accident (e.g. from a failed HTTP call) never reaches disk in the clear.
func NewLogger(homeDir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logFilePath := filepath.Join(logDir, "system.jsonl")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var sink io.Writer = file
	if !quiet {
		sink = io.MultiWriter(os.Stdout, file)
	}
	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redactAttr,
	})
	logger := slog.New(handler).With("component", "runtime", "trace_id", "-")
	return logger, file, nil
}

// redactAttr is the slog ReplaceAttr hook: it renames the time key to
// "timestamp" and redacts both secret-named keys and secret-shaped values,
// so a conversation's bot token never leaks through a log line whose key
// name didn't happen to match a sensitive pattern.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
	}
	if keyLooksSensitive(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if redacted, ok := redactStringValue(a.Value.String()); ok {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

func keyLooksSensitive(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range sensitiveKeyTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	// Bot long-poll requests and Telegram API errors are the two places a
	// bearer-style credential is most likely to end up embedded in a value
	// rather than carried under a sensitively-named key.
	if strings.Contains(lower, "bearer ") {
		return "[REDACTED]", true
	}
	if strings.Contains(lower, "api_key") || strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	if redacted := shared.Redact(v); redacted != v {
		return redacted, true
	}
	return v, false
}

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
