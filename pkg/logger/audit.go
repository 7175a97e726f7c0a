package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is the log-side view of a security audit record
type AuditEvent struct {
	ID           string
	EventType    string
	Severity     string
	Status       string
	Action       string
	Email        string
	IPAddress    string
	UserAgent    string
	ResourceType string
	ResourceID   string
	Details      string
	CreatedAt    time.Time
}

// AuditLogger mirrors audit records to the structured log
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogEvent writes one audit record. The level follows the severity.
func (al *AuditLogger) LogEvent(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("audit_id", event.ID),
		slog.String("event_type", event.EventType),
		slog.String("severity", event.Severity),
		slog.String("status", event.Status),
		slog.String("timestamp", event.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}

	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.Action != "" {
		attrs = append(attrs, slog.String("action", event.Action))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.ResourceType != "" {
		attrs = append(attrs, slog.String("resource_type", event.ResourceType))
	}
	if event.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", event.ResourceID))
	}
	if event.Details != "" {
		attrs = append(attrs, slog.String("details", event.Details))
	}

	al.logger.LogAttrs(ctx, severityLevel(event.Severity), "audit", attrs...)
}

func severityLevel(severity string) slog.Level {
	switch severity {
	case "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
