package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/parlourguard/internal/metrics"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/notify"
	pkglogger "github.com/BradenHooton/parlourguard/pkg/logger"
)

// AuditService handles audit logging with dual-write pattern (slog + database).
// Appending never fails the caller: a persistence error is logged and counted.
type AuditService struct {
	repo        AuditRepository
	notifier    Notifier
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time

	// lastMicros keeps createdAt strictly increasing for records from this writer
	lastMicros atomic.Int64
}

// NewAuditService creates a new AuditService. notifier may be nil.
func NewAuditService(repo AuditRepository, notifier Notifier, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		notifier:    notifier,
		auditLogger: pkglogger.NewAuditLogger(logger),
		logger:      logger,
		now:         time.Now,
	}
}

// Record validates an externally supplied record and appends it
func (s *AuditService) Record(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
	if rec.Severity == "" {
		rec.Severity = models.AuditSeverityInfo
	}
	if rec.Status == "" {
		rec.Status = models.AuditStatusSuccess
	}

	switch {
	case !rec.EventType.Valid():
		return nil, models.NewValidationError("event_type", fmt.Sprintf("unknown event type %q", rec.EventType))
	case !rec.Severity.Valid():
		return nil, models.NewValidationError("severity", fmt.Sprintf("unknown severity %q", rec.Severity))
	case !rec.Status.Valid():
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", rec.Status))
	}

	rec.ID = ""
	rec.CreatedAt = time.Time{}
	rec.Email = normalizeEmail(rec.Email)
	s.Append(ctx, rec)
	return rec, nil
}

// Append assigns id and createdAt, mirrors the record to slog and persists it
func (s *AuditService) Append(ctx context.Context, rec *models.AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.nextTimestamp()
	}

	s.auditLogger.LogEvent(ctx, toLogEvent(rec))
	metrics.AuditRecordsTotal.WithLabelValues(string(rec.Severity)).Inc()

	if err := s.repo.Create(ctx, rec); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		s.logger.ErrorContext(ctx, "failed to persist audit record",
			slog.String("event_type", string(rec.EventType)),
			slog.String("audit_id", rec.ID),
			slog.Any("error", err),
		)
	}

	if rec.Severity == models.AuditSeverityCritical && s.notifier != nil {
		s.notifier.Enqueue(notify.Message{
			Audience: notify.AudienceAdmin,
			Kind:     notify.KindCriticalEvent,
			Subject:  fmt.Sprintf("Critical security event: %s", rec.EventType),
			Body: fmt.Sprintf("%s for %s at %s: %s",
				rec.EventType, pkglogger.SanitizedEmail(rec.Email), rec.CreatedAt.UTC().Format(time.RFC3339), rec.Details),
			Metadata: map[string]string{
				"audit_id":   rec.ID,
				"event_type": string(rec.EventType),
			},
		})
	}
}

// nextTimestamp returns now at microsecond precision, bumped past the previous value if needed
func (s *AuditService) nextTimestamp() time.Time {
	candidate := s.now().UTC().UnixMicro()
	for {
		last := s.lastMicros.Load()
		next := candidate
		if next <= last {
			next = last + 1
		}
		if s.lastMicros.CompareAndSwap(last, next) {
			return time.UnixMicro(next).UTC()
		}
	}
}

func toLogEvent(rec *models.AuditRecord) pkglogger.AuditEvent {
	event := pkglogger.AuditEvent{
		ID:        rec.ID,
		EventType: string(rec.EventType),
		Severity:  string(rec.Severity),
		Status:    string(rec.Status),
		Action:    rec.Action,
		Email:     rec.Email,
		IPAddress: rec.IPAddress,
		UserAgent: rec.UserAgent,
		Details:   rec.Details,
		CreatedAt: rec.CreatedAt,
	}
	if rec.ResourceType != nil {
		event.ResourceType = *rec.ResourceType
	}
	if rec.ResourceID != nil {
		event.ResourceID = *rec.ResourceID
	}
	return event
}

// challengeRecord builds the audit record for a challenge event
func challengeRecord(c *models.Challenge, event models.AuditEventType, severity models.AuditSeverity, status models.AuditStatus, details string) *models.AuditRecord {
	return &models.AuditRecord{
		Email:        c.Email,
		EventType:    event,
		Severity:     severity,
		Status:       status,
		Action:       models.AuditActionVerify,
		IPAddress:    c.IPAddress,
		UserAgent:    c.UserAgent,
		ResourceType: models.StringPtr(models.AuditResourceTypeChallenge),
		ResourceID:   models.StringPtr(c.ID),
		Details:      details,
		Metadata: models.AuditMetadata{
			"challenge_type": string(c.ChallengeType),
			"attempt_count":  c.AttemptCount,
			"risk_score":     c.RiskScore,
		},
	}
}
