package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/services"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, sessionID, email, role string) *http.Request {
	claims := &models.TokenClaims{
		SessionID: sessionID,
		Email:     email,
		Role:      role,
		Type:      models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithURLParam sets a chi URL parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc         func(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	CompleteLoginFunc func(ctx context.Context, in services.VerifyInput, ipAddress, userAgent string) (*services.LoginResult, error)
	LogoutFunc        func(ctx context.Context, claims *models.TokenClaims) error
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) CompleteLogin(ctx context.Context, in services.VerifyInput, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.CompleteLoginFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.CompleteLoginFunc(ctx, in, ipAddress, userAgent)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims)
}

// MockChallengeService implements ChallengeServiceInterface for testing
type MockChallengeService struct {
	CreateFunc  func(ctx context.Context, in services.CreateChallengeInput) (*services.CreatedChallenge, error)
	VerifyFunc  func(ctx context.Context, in services.VerifyInput) (*models.VerificationResult, error)
	ApproveFunc func(ctx context.Context, challengeID, adminEmail string) (*models.ChallengeApproval, error)
}

func (m *MockChallengeService) Create(ctx context.Context, in services.CreateChallengeInput) (*services.CreatedChallenge, error) {
	if m.CreateFunc == nil {
		return &services.CreatedChallenge{ChallengeID: "00000000-0000-0000-0000-000000000001", Type: models.ChallengeTypeCaptcha}, nil
	}
	return m.CreateFunc(ctx, in)
}

func (m *MockChallengeService) Verify(ctx context.Context, in services.VerifyInput) (*models.VerificationResult, error) {
	if m.VerifyFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.VerifyFunc(ctx, in)
}

func (m *MockChallengeService) Approve(ctx context.Context, challengeID, adminEmail string) (*models.ChallengeApproval, error) {
	if m.ApproveFunc == nil {
		return &models.ChallengeApproval{ChallengeID: challengeID, ApprovedBy: adminEmail, ApprovedAt: time.Now()}, nil
	}
	return m.ApproveFunc(ctx, challengeID, adminEmail)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListActiveFunc func(ctx context.Context, email string) ([]*models.Session, error)
	RevokeOwnFunc  func(ctx context.Context, email, sessionID string) error
}

func (m *MockSessionService) ListActive(ctx context.Context, email string) ([]*models.Session, error) {
	if m.ListActiveFunc == nil {
		return []*models.Session{}, nil
	}
	return m.ListActiveFunc(ctx, email)
}

func (m *MockSessionService) RevokeOwn(ctx context.Context, email, sessionID string) error {
	if m.RevokeOwnFunc == nil {
		return nil
	}
	return m.RevokeOwnFunc(ctx, email, sessionID)
}

// MockRiskProfiler implements RiskProfiler for testing
type MockRiskProfiler struct {
	ProfileFunc func(ctx context.Context, email string) models.RiskSnapshot
}

func (m *MockRiskProfiler) Profile(ctx context.Context, email string) models.RiskSnapshot {
	if m.ProfileFunc == nil {
		return models.RiskSnapshot{Email: email, BaseRiskScore: models.DefaultBaseRiskScore, SecurityLevel: models.SecurityLevelLow}
	}
	return m.ProfileFunc(ctx, email)
}

// MockReportGenerator implements ReportGenerator for testing
type MockReportGenerator struct {
	GenerateSecurityReportFunc func(ctx context.Context, start, end time.Time) (*models.SecurityReport, error)
}

func (m *MockReportGenerator) GenerateSecurityReport(ctx context.Context, start, end time.Time) (*models.SecurityReport, error) {
	if m.GenerateSecurityReportFunc == nil {
		return &models.SecurityReport{StartTime: start, EndTime: end}, nil
	}
	return m.GenerateSecurityReportFunc(ctx, start, end)
}

// MockAuditRecorder implements AuditRecorder for testing
type MockAuditRecorder struct {
	RecordFunc func(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error)
}

func (m *MockAuditRecorder) Record(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
	if m.RecordFunc == nil {
		rec.ID = "00000000-0000-0000-0000-0000000000aa"
		return rec, nil
	}
	return m.RecordFunc(ctx, rec)
}
