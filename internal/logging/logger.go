package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithConversation returns a logger with conversation context attached.
// Use this for all logging within a dispatch.
func WithConversation(conversationID string) *slog.Logger {
	return slog.With("conversation_id", conversationID)
}

// WithSession returns a logger scoped to a writing session's push channel.
func WithSession(sessionID string) *slog.Logger {
	return slog.With("session_id", sessionID)
}
