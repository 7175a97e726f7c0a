package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/parlourguard/internal/handlers"
	"github.com/BradenHooton/parlourguard/internal/models"
)

func TestGetRiskProfile(t *testing.T) {
	var asked string
	h := handlers.NewRiskHandler(&handlers.MockRiskProfiler{
		ProfileFunc: func(ctx context.Context, email string) models.RiskSnapshot {
			asked = email
			return models.RiskSnapshot{Email: email, BaseRiskScore: 0.4, CurrentRiskScore: 0.4, SecurityLevel: models.SecurityLevelMedium, RequiresStepUp: true}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/risk/Client@Example.com", nil)
	req = handlers.WithURLParam(req, "email", "Client@Example.com")
	w := httptest.NewRecorder()
	h.GetProfile(w, req)

	var resp models.RiskSnapshot
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "client@example.com", asked)
	assert.Equal(t, models.SecurityLevelMedium, resp.SecurityLevel)
	assert.True(t, resp.RequiresStepUp)

	req = httptest.NewRequest(http.MethodGet, "/risk/nobody", nil)
	req = handlers.WithURLParam(req, "email", "nobody")
	w = httptest.NewRecorder()
	h.GetProfile(w, req)
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestGetSecurityReport(t *testing.T) {
	var gotStart, gotEnd time.Time
	h := handlers.NewReportHandler(&handlers.MockReportGenerator{
		GenerateSecurityReportFunc: func(ctx context.Context, start, end time.Time) (*models.SecurityReport, error) {
			gotStart, gotEnd = start, end
			return &models.SecurityReport{
				StartTime:        start,
				EndTime:          end,
				TotalEvents:      10,
				EventsByType:     map[models.AuditEventType]int{models.AuditEventLoginSuccess: 10},
				EventsBySeverity: map[models.AuditSeverity]int{models.AuditSeverityInfo: 10},
				OmittedSections:  []string{"resource_hotspots"},
			}, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/reports/security?start=2026-03-01T00:00:00Z&end=2026-03-08T00:00:00Z", nil)
	w := httptest.NewRecorder()
	h.GetSecurityReport(w, req)

	var resp models.SecurityReport
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 10, resp.TotalEvents)
	assert.Equal(t, []string{"resource_hotspots"}, resp.OmittedSections)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), gotStart.UTC())
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), gotEnd.UTC())
}

func TestGetSecurityReport_BadInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
		err   error
	}{
		{"missing start", "?end=2026-03-08T00:00:00Z", nil},
		{"not rfc3339", "?start=yesterday&end=2026-03-08T00:00:00Z", nil},
		{"inverted window", "?start=2026-03-08T00:00:00Z&end=2026-03-01T00:00:00Z", models.NewValidationError("end", "must be after start")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewReportHandler(&handlers.MockReportGenerator{
				GenerateSecurityReportFunc: func(ctx context.Context, start, end time.Time) (*models.SecurityReport, error) {
					return nil, tt.err
				},
			}, nil)

			w := httptest.NewRecorder()
			h.GetSecurityReport(w, httptest.NewRequest(http.MethodGet, "/reports/security"+tt.query, nil))

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
}

func TestGetSecurityReport_StoreFailure(t *testing.T) {
	h := handlers.NewReportHandler(&handlers.MockReportGenerator{
		GenerateSecurityReportFunc: func(ctx context.Context, start, end time.Time) (*models.SecurityReport, error) {
			return nil, errors.New("connection refused")
		},
	}, nil)

	w := httptest.NewRecorder()
	h.GetSecurityReport(w, httptest.NewRequest(http.MethodGet, "/reports/security?start=2026-03-01T00:00:00Z&end=2026-03-08T00:00:00Z", nil))

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestCreateAuditRecord(t *testing.T) {
	var got *models.AuditRecord
	h := handlers.NewAuditHandler(&handlers.MockAuditRecorder{
		RecordFunc: func(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
			got = rec
			rec.ID = "rec-1"
			return rec, nil
		},
	}, nil, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/audit/records", handlers.AuditRecordRequest{
		Email:        "frontdesk@example.com",
		EventType:    "resource_access",
		Severity:     "warning",
		Action:       "read",
		ResourceType: models.StringPtr("booking"),
		ResourceID:   models.StringPtr("bk-42"),
		Metadata:     map[string]interface{}{"branch": "downtown"},
	})
	req.RemoteAddr = "198.51.100.4:1234"
	w := httptest.NewRecorder()
	h.CreateRecord(w, req)

	var resp models.AuditRecord
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "rec-1", resp.ID)

	require.NotNil(t, got)
	assert.Equal(t, models.AuditEventResourceAccess, got.EventType)
	assert.Equal(t, models.AuditSeverityWarning, got.Severity)
	assert.Equal(t, "198.51.100.4", got.IPAddress)
	assert.Equal(t, "downtown", got.Metadata["branch"])
}

func TestCreateAuditRecord_Invalid(t *testing.T) {
	h := handlers.NewAuditHandler(&handlers.MockAuditRecorder{
		RecordFunc: func(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
			return nil, models.NewValidationError("event_type", "unknown event type")
		},
	}, nil, nil)

	bodies := []string{
		`{"event_type":"LOGIN_SUCCESS"}`,
		`{"email":"a@example.com","event_type":"LOGIN_SUCCESS","ip_address":"not-an-ip"}`,
		`{"email":"a@example.com","event_type":"TELEPORT"}`,
	}
	for _, body := range bodies {
		w := httptest.NewRecorder()
		h.CreateRecord(w, httptest.NewRequest(http.MethodPost, "/audit/records", strings.NewReader(body)))
		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	}
}

func TestListSessions_MarksCurrent(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	h := handlers.NewSessionHandler(&handlers.MockSessionService{
		ListActiveFunc: func(ctx context.Context, email string) ([]*models.Session, error) {
			assert.Equal(t, "stylist@example.com", email)
			return []*models.Session{
				{SessionID: "s-1", Email: email, CreatedAt: created, IsActive: true},
				{SessionID: "s-2", Email: email, CreatedAt: created.Add(time.Hour), IsActive: true},
			}, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req = handlers.WithAuthContext(req, "s-2", "stylist@example.com", models.RoleMember)
	w := httptest.NewRecorder()
	h.List(w, req)

	var resp struct {
		Sessions []handlers.SessionResponse `json:"sessions"`
		Total    int                        `json:"total"`
	}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, 2, resp.Total)
	assert.False(t, resp.Sessions[0].Current)
	assert.True(t, resp.Sessions[1].Current)
}

func TestRevokeSession(t *testing.T) {
	const sessionID = "3d6f0a52-8c1e-4b8e-9f3a-0e2d9b7c5a11"
	var gotEmail, gotID string
	h := handlers.NewSessionHandler(&handlers.MockSessionService{
		RevokeOwnFunc: func(ctx context.Context, email, id string) error {
			gotEmail, gotID = email, id
			if id != sessionID {
				return models.ErrNotFound
			}
			return nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+sessionID, nil)
	req = handlers.WithURLParam(req, "id", sessionID)
	req = handlers.WithAuthContext(req, "current", "stylist@example.com", models.RoleMember)
	w := httptest.NewRecorder()
	h.Revoke(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "stylist@example.com", gotEmail)
	assert.Equal(t, sessionID, gotID)

	other := "9b1e7c3a-2f4d-4a6b-8c0e-1d2f3a4b5c6d"
	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+other, nil)
	req = handlers.WithURLParam(req, "id", other)
	req = handlers.WithAuthContext(req, "current", "stylist@example.com", models.RoleMember)
	w = httptest.NewRecorder()
	h.Revoke(w, req)
	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestHealth(t *testing.T) {
	h := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("dial tcp: refused") },
	})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "up", resp.Dependencies["postgres"])
	assert.Equal(t, "down", resp.Dependencies["redis"])

	w = httptest.NewRecorder()
	handlers.NewHealthHandler(nil).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
