package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/handlers"
	"github.com/BradenHooton/parlourguard/internal/keylock"
	"github.com/BradenHooton/parlourguard/internal/middleware"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/risk"
	"github.com/BradenHooton/parlourguard/internal/routes"
	"github.com/BradenHooton/parlourguard/internal/services"
	"github.com/BradenHooton/parlourguard/internal/store/memory"
	"github.com/BradenHooton/parlourguard/internal/verifier"
	pkgauth "github.com/BradenHooton/parlourguard/pkg/auth"
)

const password = "Blow-Dry-Bar-2026"

type app struct {
	router     http.Handler
	auditStore *memory.AuditStore
}

func newApp(t *testing.T) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	auditStore := memory.NewAuditStore()
	challengeStore := memory.NewChallengeStore()
	credentialStore := memory.NewCredentialStore()

	for email, role := range map[string]string{"stylist@example.com": models.RoleMember, "owner@example.com": models.RoleAdmin} {
		hash, err := pkgauth.HashPasswordWithCost(password, 4)
		require.NoError(t, err)
		require.NoError(t, credentialStore.Upsert(ctx, &models.Credential{Email: email, PasswordHash: hash, Role: role, Status: models.CredentialStatusActive}))
	}

	notifier := &services.MockNotifier{}
	engine := risk.NewEngine(risk.NewStore(4, nil, logger), risk.EngineConfig{}, logger)
	audit := services.NewAuditService(auditStore, notifier, logger)

	answers := &services.MockVerifier{}
	registry := verifier.NewRegistry(answers, answers, answers, verifier.NewApprovalVerifier(challengeStore))
	challenges := services.NewChallengeService(challengeStore, engine, registry, audit, notifier, keylock.New(8),
		services.ChallengeConfig{TTL: 30 * time.Minute, MaxAttempts: 3}, logger)
	lockouts := services.NewLockoutService(memory.NewLockoutStore(), audit, models.LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}, logger)
	sessions := services.NewSessionService(memory.NewSessionStore(), audit, services.SessionConfig{}, logger)
	tm := auth.NewTokenManager("routes-test-secret-32-characters!", "parlourguard-test", 15*time.Minute)
	authService := services.NewAuthService(credentialStore, lockouts, sessions, challenges, engine, audit, tm,
		auth.NewTimingDelay(auth.TimingConfig{}), services.AuthConfig{}, logger)
	reports := services.NewReportService(auditStore, services.NewBaselineBehaviorAnalyzer(time.UTC),
		services.NewHotspotAnalyzer(10), services.ReportConfig{}, logger)

	router := chi.NewRouter()
	routes.RegisterRoutes(router, routes.Handlers{
		Auth:       handlers.NewAuthHandler(authService, nil, logger),
		Challenges: handlers.NewChallengeHandler(challenges, nil, logger),
		Sessions:   handlers.NewSessionHandler(sessions, logger),
		Risk:       handlers.NewRiskHandler(engine),
		Reports:    handlers.NewReportHandler(reports, logger),
		Audit:      handlers.NewAuditHandler(audit, nil, logger),
		Health:     handlers.NewHealthHandler(nil),
	}, routes.Dependencies{
		TokenManager: tm,
		Sessions:     sessions,
		AuditTrail:   audit,
		RateLimits: routes.RateLimits{
			Login:         middleware.RateLimitConfig{RequestsPerMinute: 100},
			Verify:        middleware.RateLimitConfig{RequestsPerMinute: 100},
			Authenticated: middleware.RateLimitConfig{RequestsPerMinute: 100},
		},
		Logger: logger,
	})

	return &app{router: router, auditStore: auditStore}
}

func (a *app) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return a.doWithHeaders(t, method, path, token, body, nil)
}

func (a *app) doWithHeaders(t *testing.T, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.50:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// login runs the full two-step login and returns the access token
func (a *app) login(t *testing.T, email string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var first services.LoginResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Equal(t, services.LoginStatusChallengeRequired, first.Status)
	require.NotNil(t, first.Challenge)

	w = a.do(t, http.MethodPost, "/auth/login/verify", "", handlers.CompleteLoginRequest{
		ChallengeID: first.Challenge.ChallengeID,
		Token:       first.Challenge.Token,
		Answer:      "correct",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var done services.LoginResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	require.Equal(t, services.LoginStatusAuthenticated, done.Status)
	require.NotEmpty(t, done.AccessToken)
	return done.AccessToken
}

func TestLoginSessionLogoutFlow(t *testing.T) {
	a := newApp(t)

	w := a.do(t, http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "owner@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := a.login(t, "stylist@example.com")

	w = a.do(t, http.MethodGet, "/sessions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Sessions []handlers.SessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Sessions, 1)
	assert.True(t, listed.Sessions[0].Current)

	w = a.do(t, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// The token is still unexpired but its session is gone
	w = a.do(t, http.MethodGet, "/sessions", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	a := newApp(t)

	member := a.login(t, "stylist@example.com")
	w := a.do(t, http.MethodGet, "/risk/stylist@example.com", member, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := a.login(t, "owner@example.com")
	w = a.do(t, http.MethodGet, "/risk/stylist@example.com", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.RiskSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "stylist@example.com", snap.Email)
	assert.Zero(t, snap.ConsecutiveFailures)

	start := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = a.do(t, http.MethodGet, "/reports/security?start="+start+"&end="+end, admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report models.SecurityReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Positive(t, report.TotalEvents)
	assert.Positive(t, report.EventsByType[models.AuditEventLoginSuccess])

	// The refused member request was audited as blocked access to the risk profile
	records, err := a.auditStore.ListRange(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	var blocked int
	for _, rec := range records {
		if rec.EventType == models.AuditEventResourceAccess && rec.Status == models.AuditStatusBlocked {
			blocked++
			assert.Equal(t, "stylist@example.com", rec.Email)
			assert.Equal(t, models.AuditResourceTypeRisk, *rec.ResourceType)
		}
	}
	assert.Equal(t, 1, blocked)
}

func TestPublicEndpoints(t *testing.T) {
	a := newApp(t)

	w := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/challenges/verify", "", handlers.VerifyChallengeRequest{
		ChallengeID: "2b0c1f4e-9a7d-4e6b-8f3c-5d1a0e9b7c42",
		Token:       "nothing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForgedForwardingHeadersAreIgnored(t *testing.T) {
	a := newApp(t)

	w := a.doWithHeaders(t, http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: "owner@example.com", Password: "wrong"},
		map[string]string{"X-Real-IP": "203.0.113.77", "X-Forwarded-For": "203.0.113.78"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	records, err := a.auditStore.ListRange(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	var failures int
	for _, rec := range records {
		if rec.EventType == models.AuditEventLoginFailure {
			failures++
			assert.Equal(t, "192.0.2.50", rec.IPAddress)
		}
	}
	assert.Equal(t, 1, failures)
}
