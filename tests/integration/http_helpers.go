//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/handlers"
	"github.com/BradenHooton/parlourguard/internal/keylock"
	middlewareCustom "github.com/BradenHooton/parlourguard/internal/middleware"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/notify"
	"github.com/BradenHooton/parlourguard/internal/risk"
	"github.com/BradenHooton/parlourguard/internal/routes"
	"github.com/BradenHooton/parlourguard/internal/services"
	"github.com/BradenHooton/parlourguard/internal/verifier"
)

// CaptchaAnswer is the only CAPTCHA response the test server accepts
const CaptchaAnswer = "captcha-ok"

// CapturingNotifier keeps every enqueued message for assertions
type CapturingNotifier struct {
	mu       sync.Mutex
	Messages []notify.Message
}

func (n *CapturingNotifier) Enqueue(msg notify.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, msg)
	return true
}

// ByKind returns the captured messages of one kind
func (n *CapturingNotifier) ByKind(kind string) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, msg := range n.Messages {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// TestServer wraps httptest.Server with the postgres-backed service graph
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Repos    *Repositories
	Notifier *CapturingNotifier
}

// NewTestServer wires the production router against the test database.
// CAPTCHA answers pass when they equal CaptchaAnswer.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	repos := InitializeRepositories(db)
	notifier := &CapturingNotifier{}

	engine := risk.NewEngine(risk.NewStore(8, repos.RiskProfiles, logger), risk.EngineConfig{Location: time.UTC}, logger)
	audit := services.NewAuditService(repos.Audit, notifier, logger)

	captcha := &services.MockVerifier{
		VerifyFunc: func(_ context.Context, _ *models.Challenge, answer string) (bool, error) {
			return answer == CaptchaAnswer, nil
		},
	}
	registry := verifier.NewRegistry(
		captcha,
		verifier.NewOTPVerifier("ParlourTest", verifier.ChannelEmail, nil),
		verifier.NewOTPVerifier("ParlourTest", verifier.ChannelPhone, nil),
		verifier.NewApprovalVerifier(repos.Challenges),
	)

	challenges := services.NewChallengeService(repos.Challenges, engine, registry, audit, notifier, keylock.New(8),
		services.ChallengeConfig{TTL: 30 * time.Minute, MaxAttempts: 3}, logger)
	lockouts := services.NewLockoutService(repos.Lockouts, audit,
		models.LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}, logger)
	sessions := services.NewSessionService(repos.Sessions, audit, services.SessionConfig{
		MaxConcurrent:     3,
		TTL:               12 * time.Hour,
		InactivityTimeout: 30 * time.Minute,
	}, logger)

	tm := auth.NewTokenManager("integration-secret-32-characters!!", "parlourguard-test", 15*time.Minute)
	authService := services.NewAuthService(repos.Credentials, lockouts, sessions, challenges, engine, audit, tm,
		auth.NewTimingDelay(auth.TimingConfig{}), services.AuthConfig{}, logger)
	reports := services.NewReportService(repos.Audit, services.NewBaselineBehaviorAnalyzer(time.UTC),
		services.NewHotspotAnalyzer(10), services.ReportConfig{}, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)

	limit := middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000}
	routes.RegisterRoutes(r, routes.Handlers{
		Auth:       handlers.NewAuthHandler(authService, nil, logger),
		Challenges: handlers.NewChallengeHandler(challenges, nil, logger),
		Sessions:   handlers.NewSessionHandler(sessions, logger),
		Risk:       handlers.NewRiskHandler(engine),
		Reports:    handlers.NewReportHandler(reports, logger),
		Audit:      handlers.NewAuditHandler(audit, nil, logger),
		Health:     handlers.NewHealthHandler(map[string]handlers.HealthCheck{"database": db.HealthCheck}),
	}, routes.Dependencies{
		TokenManager: tm,
		Sessions:     sessions,
		AuditTrail:   audit,
		RateLimits:   routes.RateLimits{Login: limit, Verify: limit, Authenticated: limit},
		Logger:       logger,
	})

	return &TestServer{
		Server:   httptest.NewServer(r),
		DB:       db,
		Repos:    repos,
		Notifier: notifier,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{"Authorization": "Bearer " + accessToken})
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
