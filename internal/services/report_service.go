package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/tracing"
)

// Report defaults
const (
	DefaultReportMaxWindow      = 366 * 24 * time.Hour
	DefaultReportBaselineWindow = 30 * 24 * time.Hour
	DefaultHotspotLimit         = 10
)

// BehaviorAnalyzer flags identities whose behaviour in the window departs from their baseline
type BehaviorAnalyzer interface {
	Analyze(ctx context.Context, window, baseline []*models.AuditRecord) ([]models.SuspiciousActivity, error)
}

// AccessAnalyzer ranks the most heavily accessed resources
type AccessAnalyzer interface {
	Hotspots(ctx context.Context, window []*models.AuditRecord) ([]models.ResourceHotspot, error)
}

// ReportConfig bounds report generation
type ReportConfig struct {
	MaxWindow      time.Duration
	BaselineWindow time.Duration
}

// ReportService builds security reports from the audit store. It never writes to the store.
type ReportService struct {
	audit    AuditReader
	behavior BehaviorAnalyzer
	access   AccessAnalyzer
	config   ReportConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewReportService creates a new ReportService. Either analyzer may be nil; its section is then omitted.
func NewReportService(audit AuditReader, behavior BehaviorAnalyzer, access AccessAnalyzer, config ReportConfig, logger *slog.Logger) *ReportService {
	if config.MaxWindow <= 0 {
		config.MaxWindow = DefaultReportMaxWindow
	}
	if config.BaselineWindow <= 0 {
		config.BaselineWindow = DefaultReportBaselineWindow
	}
	return &ReportService{
		audit:    audit,
		behavior: behavior,
		access:   access,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// GenerateSecurityReport aggregates the audit records in [start, end).
// A failing analyzer does not fail the report: its section is dropped and named in OmittedSections.
func (s *ReportService) GenerateSecurityReport(ctx context.Context, start, end time.Time) (*models.SecurityReport, error) {
	if start.IsZero() || end.IsZero() {
		return nil, models.NewValidationError("range", "start and end are required")
	}
	if !start.Before(end) {
		return nil, models.NewValidationError("range", "start must be before end")
	}
	if end.Sub(start) > s.config.MaxWindow {
		return nil, models.NewValidationError("range", fmt.Sprintf("window exceeds %s", s.config.MaxWindow))
	}

	ctx, span := tracing.StartSpan(ctx, "report.generate",
		attribute.String("report.start", start.UTC().Format(time.RFC3339)),
		attribute.String("report.end", end.UTC().Format(time.RFC3339)),
	)
	defer span.End()

	records, err := s.audit.ListRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}

	report := aggregate(records)
	report.StartTime = start.UTC()
	report.EndTime = end.UTC()

	var (
		activities      []models.SuspiciousActivity
		hotspots        []models.ResourceHotspot
		behaviorOmitted = s.behavior == nil
		accessOmitted   = s.access == nil
	)

	g, gctx := errgroup.WithContext(ctx)
	if s.behavior != nil {
		g.Go(func() error {
			baseline, err := s.audit.ListRange(gctx, start.Add(-s.config.BaselineWindow), start)
			if err == nil {
				activities, err = s.behavior.Analyze(gctx, records, baseline)
			}
			if err != nil {
				s.logger.WarnContext(ctx, "behavior analyzer unavailable, omitting section", slog.Any("error", err))
				behaviorOmitted = true
			}
			return nil
		})
	}
	if s.access != nil {
		g.Go(func() error {
			var err error
			hotspots, err = s.access.Hotspots(gctx, records)
			if err != nil {
				s.logger.WarnContext(ctx, "access analyzer unavailable, omitting section", slog.Any("error", err))
				accessOmitted = true
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if behaviorOmitted {
		report.OmittedSections = append(report.OmittedSections, models.ReportSectionSuspiciousActivities)
	} else {
		report.SuspiciousActivities = activities
	}
	if accessOmitted {
		report.OmittedSections = append(report.OmittedSections, models.ReportSectionResourceHotspots)
	} else {
		report.ResourceHotspots = hotspots
	}
	sort.Strings(report.OmittedSections)

	report.GeneratedAt = s.now().UTC()
	span.SetAttributes(attribute.Int("report.total_events", report.TotalEvents))
	return report, nil
}

func aggregate(records []*models.AuditRecord) *models.SecurityReport {
	report := &models.SecurityReport{
		TotalEvents:      len(records),
		EventsByType:     make(map[models.AuditEventType]int),
		EventsBySeverity: make(map[models.AuditSeverity]int),
		EventsByStatus:   make(map[models.AuditStatus]int),
	}

	identities := make(map[string]struct{})
	for _, r := range records {
		report.EventsByType[r.EventType]++
		report.EventsBySeverity[r.Severity]++
		report.EventsByStatus[r.Status]++
		if r.Email != "" {
			identities[r.Email] = struct{}{}
		}
	}
	report.UniqueIdentities = len(identities)

	return report
}
