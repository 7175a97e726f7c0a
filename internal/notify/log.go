package notify

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/parlourguard/pkg/logger"
)

// LogNotifier writes messages to the structured log. Bodies are only logged at debug level
// since identity messages contain one-time codes.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	attrs := []slog.Attr{
		slog.String("audience", string(msg.Audience)),
		slog.String("kind", msg.Kind),
		slog.String("subject", msg.Subject),
	}
	if msg.To != "" {
		attrs = append(attrs, slog.String("to", logger.SanitizedEmail(msg.To)))
	}

	n.logger.LogAttrs(ctx, slog.LevelInfo, "notification", attrs...)
	n.logger.LogAttrs(ctx, slog.LevelDebug, "notification body", slog.String("kind", msg.Kind), slog.String("body", msg.Body))
	return nil
}
