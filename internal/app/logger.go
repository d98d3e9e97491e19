package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"walletlink/go-client/internal/platform/privacylog"
)

// NewLogger returns a JSON logger whose records pass through the privacy
// sanitizer.
func NewLogger(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(privacylog.WrapHandler(handler))
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
