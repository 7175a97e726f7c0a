package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/parlourguard/internal/models"
)

var reportStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type mockBehaviorAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, window, baseline []*models.AuditRecord) ([]models.SuspiciousActivity, error)
}

func (m *mockBehaviorAnalyzer) Analyze(ctx context.Context, window, baseline []*models.AuditRecord) ([]models.SuspiciousActivity, error) {
	return m.AnalyzeFunc(ctx, window, baseline)
}

type mockAccessAnalyzer struct {
	HotspotsFunc func(ctx context.Context, window []*models.AuditRecord) ([]models.ResourceHotspot, error)
}

func (m *mockAccessAnalyzer) Hotspots(ctx context.Context, window []*models.AuditRecord) ([]models.ResourceHotspot, error) {
	return m.HotspotsFunc(ctx, window)
}

func auditAt(email string, event models.AuditEventType, severity models.AuditSeverity, status models.AuditStatus, at time.Time) *models.AuditRecord {
	return &models.AuditRecord{
		Email:     email,
		EventType: event,
		Severity:  severity,
		Status:    status,
		CreatedAt: at,
	}
}

func fixedAuditRepo(records []*models.AuditRecord) *MockAuditRepository {
	return &MockAuditRepository{
		ListRangeFunc: func(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error) {
			var out []*models.AuditRecord
			for _, r := range records {
				if !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
					out = append(out, r)
				}
			}
			return out, nil
		},
	}
}

func TestReportService_Aggregation(t *testing.T) {
	var records []*models.AuditRecord
	types := []models.AuditEventType{models.AuditEventLoginSuccess, models.AuditEventLoginFailure, models.AuditEventChallengeCreated}
	for i := 0; i < 10; i++ {
		severity := models.AuditSeverityInfo
		if i%2 == 1 {
			severity = models.AuditSeverityWarning
		}
		email := "a@example.com"
		if i >= 6 {
			email = "b@example.com"
		}
		records = append(records, auditAt(email, types[i%3], severity, models.AuditStatusSuccess, reportStart.Add(time.Duration(i)*time.Hour+12*time.Hour)))
	}
	// Outside the window
	records = append(records, auditAt("c@example.com", models.AuditEventLogout, models.AuditSeverityInfo, models.AuditStatusSuccess, reportStart.Add(-time.Hour)))

	svc := NewReportService(fixedAuditRepo(records), NewBaselineBehaviorAnalyzer(time.UTC), NewHotspotAnalyzer(10), ReportConfig{}, discardLogger())

	report, err := svc.GenerateSecurityReport(context.Background(), reportStart, reportStart.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 10, report.TotalEvents)
	assert.Equal(t, map[models.AuditEventType]int{
		models.AuditEventLoginSuccess:     4,
		models.AuditEventLoginFailure:     3,
		models.AuditEventChallengeCreated: 3,
	}, report.EventsByType)
	assert.Equal(t, map[models.AuditSeverity]int{
		models.AuditSeverityInfo:    5,
		models.AuditSeverityWarning: 5,
	}, report.EventsBySeverity)
	assert.Equal(t, 10, report.EventsByStatus[models.AuditStatusSuccess])
	assert.Equal(t, 2, report.UniqueIdentities)
	assert.Empty(t, report.OmittedSections)
	assert.Equal(t, reportStart, report.StartTime)
}

func TestReportService_Validation(t *testing.T) {
	svc := NewReportService(fixedAuditRepo(nil), nil, nil, ReportConfig{MaxWindow: 48 * time.Hour}, discardLogger())
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end time.Time
	}{
		{"zero start", time.Time{}, reportStart},
		{"end before start", reportStart, reportStart.Add(-time.Hour)},
		{"empty window", reportStart, reportStart},
		{"window too large", reportStart, reportStart.Add(49 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GenerateSecurityReport(ctx, tt.start, tt.end)
			assert.ErrorIs(t, err, models.ErrBadRequest)
		})
	}
}

func TestReportService_FailingAnalyzerIsOmitted(t *testing.T) {
	behavior := &mockBehaviorAnalyzer{
		AnalyzeFunc: func(ctx context.Context, window, baseline []*models.AuditRecord) ([]models.SuspiciousActivity, error) {
			return nil, models.ErrDependencyUnavailable
		},
	}
	access := &mockAccessAnalyzer{
		HotspotsFunc: func(ctx context.Context, window []*models.AuditRecord) ([]models.ResourceHotspot, error) {
			return []models.ResourceHotspot{{ResourceType: "challenge", ResourceID: "c-1", AccessCount: 2}}, nil
		},
	}
	svc := NewReportService(fixedAuditRepo(nil), behavior, access, ReportConfig{}, discardLogger())

	report, err := svc.GenerateSecurityReport(context.Background(), reportStart, reportStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{models.ReportSectionSuspiciousActivities}, report.OmittedSections)
	assert.Len(t, report.ResourceHotspots, 1)
}

func TestReportService_MissingAnalyzersAreOmitted(t *testing.T) {
	svc := NewReportService(fixedAuditRepo(nil), nil, nil, ReportConfig{}, discardLogger())

	report, err := svc.GenerateSecurityReport(context.Background(), reportStart, reportStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{models.ReportSectionResourceHotspots, models.ReportSectionSuspiciousActivities}, report.OmittedSections)
	assert.Equal(t, 0, report.TotalEvents)
}

func TestReportService_AuditStoreFailureFailsReport(t *testing.T) {
	repo := &MockAuditRepository{
		ListRangeFunc: func(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewReportService(repo, nil, nil, ReportConfig{}, discardLogger())

	_, err := svc.GenerateSecurityReport(context.Background(), reportStart, reportStart.Add(time.Hour))
	assert.Error(t, err)
}

func TestReportService_Cancelled(t *testing.T) {
	svc := NewReportService(fixedAuditRepo(nil), NewBaselineBehaviorAnalyzer(nil), NewHotspotAnalyzer(0), ReportConfig{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GenerateSecurityReport(ctx, reportStart, reportStart.Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportService_ReadsBaselineBeforeWindow(t *testing.T) {
	var baselineStart, baselineEnd time.Time
	repo := &MockAuditRepository{
		ListRangeFunc: func(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error) {
			if end.Equal(reportStart) {
				baselineStart, baselineEnd = start, end
			}
			return nil, nil
		},
	}
	svc := NewReportService(repo, NewBaselineBehaviorAnalyzer(time.UTC), nil, ReportConfig{BaselineWindow: 7 * 24 * time.Hour}, discardLogger())

	_, err := svc.GenerateSecurityReport(context.Background(), reportStart, reportStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, reportStart.Add(-7*24*time.Hour), baselineStart)
	assert.Equal(t, reportStart, baselineEnd)
}

func TestBaselineBehaviorAnalyzer(t *testing.T) {
	day := reportStart.Add(12 * time.Hour)
	var window, baseline []*models.AuditRecord

	// burst: 4 failures of 5 against a clean baseline
	for i := 0; i < 4; i++ {
		window = append(window, auditAt("burst@example.com", models.AuditEventLoginFailure, models.AuditSeverityWarning, models.AuditStatusFailure, day))
	}
	window = append(window, auditAt("burst@example.com", models.AuditEventLoginSuccess, models.AuditSeverityInfo, models.AuditStatusSuccess, day))
	for i := 0; i < 10; i++ {
		baseline = append(baseline, auditAt("burst@example.com", models.AuditEventLoginSuccess, models.AuditSeverityInfo, models.AuditStatusSuccess, day.Add(-48*time.Hour)))
	}

	// chronic: always fails, so no departure from baseline
	for i := 0; i < 3; i++ {
		window = append(window, auditAt("chronic@example.com", models.AuditEventLoginFailure, models.AuditSeverityWarning, models.AuditStatusBlocked, day))
		baseline = append(baseline, auditAt("chronic@example.com", models.AuditEventLoginFailure, models.AuditSeverityWarning, models.AuditStatusFailure, day.Add(-48*time.Hour)))
	}

	// owl: three successes at 23:00 where the baseline is daytime
	for i := 0; i < 3; i++ {
		window = append(window, auditAt("owl@example.com", models.AuditEventLoginSuccess, models.AuditSeverityInfo, models.AuditStatusSuccess, reportStart.Add(23*time.Hour)))
		baseline = append(baseline, auditAt("owl@example.com", models.AuditEventLoginSuccess, models.AuditSeverityInfo, models.AuditStatusSuccess, day.Add(-48*time.Hour)))
	}

	// two failures stay under the minimum
	for i := 0; i < 2; i++ {
		window = append(window, auditAt("few@example.com", models.AuditEventLoginFailure, models.AuditSeverityWarning, models.AuditStatusFailure, day))
	}

	activities, err := NewBaselineBehaviorAnalyzer(time.UTC).Analyze(context.Background(), window, baseline)
	require.NoError(t, err)
	require.Len(t, activities, 2)

	assert.Equal(t, "burst@example.com", activities[0].Email)
	assert.Equal(t, 4, activities[0].FailureCount)
	assert.InDelta(t, 0.8, activities[0].FailureRate, 1e-9)
	assert.InDelta(t, 0.0, activities[0].BaselineFailureRate, 1e-9)

	assert.Equal(t, "owl@example.com", activities[1].Email)
	assert.InDelta(t, 1.0, activities[1].OffHoursRatio, 1e-9)
	assert.Len(t, activities[1].Reasons, 1)
}

func TestBaselineBehaviorAnalyzer_UsesLocation(t *testing.T) {
	// 20:00 UTC is 23:00 at UTC+3
	loc := time.FixedZone("UTC+3", 3*60*60)
	at := reportStart.Add(20 * time.Hour)

	var window []*models.AuditRecord
	for i := 0; i < 3; i++ {
		window = append(window, auditAt("zed@example.com", models.AuditEventResourceAccess, models.AuditSeverityInfo, models.AuditStatusSuccess, at))
	}

	inUTC, err := NewBaselineBehaviorAnalyzer(time.UTC).Analyze(context.Background(), window, nil)
	require.NoError(t, err)
	assert.Empty(t, inUTC)

	inZone, err := NewBaselineBehaviorAnalyzer(loc).Analyze(context.Background(), window, nil)
	require.NoError(t, err)
	assert.Len(t, inZone, 1)
}

func TestHotspotAnalyzer(t *testing.T) {
	rec := func(email, resType, resID, action string) *models.AuditRecord {
		return &models.AuditRecord{
			Email:        email,
			EventType:    models.AuditEventResourceAccess,
			Severity:     models.AuditSeverityInfo,
			Status:       models.AuditStatusSuccess,
			Action:       action,
			ResourceType: models.StringPtr(resType),
			ResourceID:   models.StringPtr(resID),
		}
	}

	window := []*models.AuditRecord{
		rec("a@example.com", "booking", "b-1", "access"),
		rec("a@example.com", "booking", "b-1", "update"),
		rec("b@example.com", "booking", "b-1", "access"),
		rec("c@example.com", "staff", "s-9", "delete"),
		rec("c@example.com", "staff", "s-9", "access"),
		rec("a@example.com", "course", "c-3", "access"),
		{Email: "x@example.com", EventType: models.AuditEventLogout},
	}

	hotspots, err := NewHotspotAnalyzer(2).Hotspots(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, hotspots, 2)

	assert.Equal(t, models.ResourceHotspot{
		ResourceType:       "booking",
		ResourceID:         "b-1",
		AccessCount:        3,
		UniqueUsers:        2,
		MostFrequentAction: "access",
	}, hotspots[0])

	assert.Equal(t, "staff", hotspots[1].ResourceType)
	assert.Equal(t, 1, hotspots[1].UniqueUsers)
	assert.Equal(t, "access", hotspots[1].MostFrequentAction, "ties go to the smallest action")
}
