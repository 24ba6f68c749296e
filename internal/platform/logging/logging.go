package logging

import (
	"io"
	"log/slog"
	"os"
)

const tokenPrefixLen = 8

func New(level string) *slog.Logger {
	// stdout carries MCP frames in serve mode and step responses in CLI mode.
	return NewWithWriter(level, os.Stderr)
}

func NewWithWriter(level string, writer io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	handler := slog.NewJSONHandler(writer, opts)
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Token logs only a short prefix of a continuation token. Tokens are bearer
// handles and must not appear in full in log output.
func Token(token string) slog.Attr {
	return slog.String("token_prefix", TokenPrefix(token))
}

func TokenPrefix(token string) string {
	if len(token) > tokenPrefixLen {
		return token[:tokenPrefixLen]
	}
	return token
}

func parseLevel(level string) slog.Level {
	switch level {
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
