package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/models"
	pkgauth "github.com/BradenHooton/parlourguard/pkg/auth"
	pkglogger "github.com/BradenHooton/parlourguard/pkg/logger"
)

// Login outcomes
const (
	LoginStatusAuthenticated     = "authenticated"
	LoginStatusChallengeRequired = "challenge_required"
	LoginStatusChallengePending  = "challenge_pending"
	LoginStatusChallengeFailed   = "challenge_failed"
)

// AuthConfig holds the orchestrator's switches
type AuthConfig struct {
	// AllowLowRiskBypass skips the challenge entirely for LOW risk logins
	AllowLowRiskBypass bool
}

// LoginInput is a primary-factor login attempt with its request signals
type LoginInput struct {
	Email             string
	Password          string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint *string
	Geolocation       *string
}

func (in LoginInput) challengeContext() models.ChallengeContext {
	return models.ChallengeContext{
		DeviceFingerprint: in.DeviceFingerprint,
		Geolocation:       in.Geolocation,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
	}
}

// LoginResult is either an authenticated session or the challenge that has to be answered first
type LoginResult struct {
	Status       string                     `json:"status"`
	AccessToken  string                     `json:"access_token,omitempty"`
	ExpiresAt    *time.Time                 `json:"expires_at,omitempty"`
	SessionID    string                     `json:"session_id,omitempty"`
	Challenge    *CreatedChallenge          `json:"challenge,omitempty"`
	Verification *models.VerificationResult `json:"verification,omitempty"`
}

// AuthService orchestrates a login: lockout check, primary credential, risk assessment,
// challenge and finally the session.
type AuthService struct {
	credentials CredentialRepository
	lockouts    *LockoutService
	sessions    *SessionService
	challenges  *ChallengeService
	risk        RiskAssessor
	audit       *AuditService
	tm          *auth.TokenManager
	timing      *auth.TimingDelay
	config      AuthConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	credentials CredentialRepository,
	lockouts *LockoutService,
	sessions *SessionService,
	challenges *ChallengeService,
	riskEngine RiskAssessor,
	audit *AuditService,
	tm *auth.TokenManager,
	timing *auth.TimingDelay,
	config AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		credentials: credentials,
		lockouts:    lockouts,
		sessions:    sessions,
		challenges:  challenges,
		risk:        riskEngine,
		audit:       audit,
		tm:          tm,
		timing:      timing,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Login checks the primary credential and either authenticates directly (LOW risk with bypass
// enabled) or issues a LOGIN challenge. Locked, unknown and wrong-password identities get the
// same response apart from the lockout wait.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	startTime := time.Now()
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		s.timing.WaitFrom(ctx, startTime, false)
		return nil, models.ErrUnauthorized
	}

	if err := s.lockouts.Check(ctx, email); err != nil {
		s.audit.Append(ctx, s.loginRecord(email, in, models.AuditEventLoginFailure, models.AuditSeverityWarning, models.AuditStatusBlocked, "account locked"))
		s.timing.WaitFrom(ctx, startTime, false)
		return nil, err
	}

	cred, ok, err := s.checkCredential(ctx, email, in.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failLogin(ctx, email, in, startTime)
	}

	cc := in.challengeContext()

	// Earlier failures already raised the profile's base score
	assessment := s.risk.Assess(ctx, email, cc, 0)
	if s.config.AllowLowRiskBypass && assessment.Level == models.SecurityLevelLow {
		s.risk.RecordOutcome(ctx, email, true, cc)
		result, err := s.finishLogin(ctx, cred, in.IPAddress, in.UserAgent)
		s.timing.WaitFrom(ctx, startTime, true)
		return result, err
	}

	challenge, err := s.challenges.Create(ctx, CreateChallengeInput{
		Email:   email,
		Purpose: models.ChallengePurposeLogin,
		Context: cc,
	})
	s.timing.WaitFrom(ctx, startTime, true)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Status:    LoginStatusChallengeRequired,
		Challenge: challenge,
	}, nil
}

// checkCredential returns ok=false for unknown, disabled or wrong-password identities.
// Unknown identities still pay for a bcrypt comparison.
func (s *AuthService) checkCredential(ctx context.Context, email, password string) (*models.Credential, bool, error) {
	cred, err := s.credentials.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		pkgauth.CompareDummy(password)
		return nil, false, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load credential", slog.Any("error", err))
		return nil, false, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(cred.PasswordHash, password); err != nil {
		return nil, false, nil
	}
	if cred.Status != models.CredentialStatusActive {
		return nil, false, nil
	}
	return cred, true, nil
}

func (s *AuthService) failLogin(ctx context.Context, email string, in LoginInput, startTime time.Time) error {
	row, err := s.lockouts.RecordFailure(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record failed login", slog.Any("error", err))
	}

	s.risk.RecordOutcome(ctx, email, false, in.challengeContext())
	s.audit.Append(ctx, s.loginRecord(email, in, models.AuditEventLoginFailure, models.AuditSeverityWarning, models.AuditStatusFailure, "invalid credentials"))
	s.logger.InfoContext(ctx, "login failed: invalid credentials", slog.String("email", pkglogger.SanitizedEmail(email)))

	s.timing.WaitFrom(ctx, startTime, false)

	if row != nil {
		if now := s.now(); row.ActiveAt(now) {
			return row.LockedError(now)
		}
	}
	return models.ErrUnauthorized
}

// CompleteLogin answers a LOGIN challenge and, on success, opens the session
func (s *AuthService) CompleteLogin(ctx context.Context, in VerifyInput, ipAddress, userAgent string) (*LoginResult, error) {
	result, err := s.challenges.Verify(ctx, in)
	if err != nil {
		return nil, err
	}
	if result.Purpose != models.ChallengePurposeLogin {
		return nil, models.NewValidationError("challenge_id", "not a login challenge")
	}
	if !result.Success {
		status := LoginStatusChallengePending
		if result.State == models.ChallengeStateFailed {
			status = LoginStatusChallengeFailed
		}
		return &LoginResult{Status: status, Verification: result}, nil
	}
	if result.Resolved {
		// One challenge opens one session
		return nil, fmt.Errorf("%w: challenge already used", models.ErrConflict)
	}

	cred, err := s.credentials.GetByEmail(ctx, result.Email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load credential after challenge", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	login, err := s.finishLogin(context.WithoutCancel(ctx), cred, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}
	login.Verification = result
	return login, nil
}

func (s *AuthService) finishLogin(ctx context.Context, cred *models.Credential, ipAddress, userAgent string) (*LoginResult, error) {
	if err := s.lockouts.RecordSuccessfulLogin(ctx, cred.Email); err != nil {
		s.logger.WarnContext(ctx, "failed to reset lockout", slog.Any("error", err))
	}

	session, err := s.sessions.CreateSession(ctx, CreateSessionInput{
		Email:     cred.Email,
		Role:      cred.Role,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tm.IssueAccessToken(session)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	rec := s.loginRecord(cred.Email, LoginInput{IPAddress: ipAddress, UserAgent: userAgent},
		models.AuditEventLoginSuccess, models.AuditSeverityInfo, models.AuditStatusSuccess, "")
	rec.ResourceType = models.StringPtr(models.AuditResourceTypeSession)
	rec.ResourceID = models.StringPtr(session.SessionID)
	s.audit.Append(ctx, rec)

	return &LoginResult{
		Status:      LoginStatusAuthenticated,
		AccessToken: token,
		ExpiresAt:   &expiresAt,
		SessionID:   session.SessionID,
	}, nil
}

// Logout revokes the caller's session
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if err := s.sessions.Revoke(ctx, claims.SessionID, models.RevocationReasonLogout); err != nil {
		return err
	}

	rec := &models.AuditRecord{
		Email:        claims.Email,
		EventType:    models.AuditEventLogout,
		Severity:     models.AuditSeverityInfo,
		Status:       models.AuditStatusSuccess,
		Action:       models.AuditActionRevoke,
		ResourceType: models.StringPtr(models.AuditResourceTypeSession),
		ResourceID:   models.StringPtr(claims.SessionID),
	}
	s.audit.Append(ctx, rec)
	return nil
}

// BootstrapAdmin creates the first administrator credential. An existing credential is left untouched.
func (s *AuthService) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	_, err := s.credentials.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("bootstrap admin password rejected: %w", err)
	}
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}

	if err := s.credentials.Upsert(ctx, &models.Credential{
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Status:       models.CredentialStatusActive,
	}); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	s.audit.Append(ctx, &models.AuditRecord{
		Email:        email,
		EventType:    models.AuditEventPermissionChange,
		Severity:     models.AuditSeverityWarning,
		Status:       models.AuditStatusSuccess,
		Action:       models.AuditActionCreate,
		ResourceType: models.StringPtr(models.AuditResourceTypeAccount),
		ResourceID:   models.StringPtr(email),
		Details:      "bootstrap administrator created",
	})
	s.logger.InfoContext(ctx, "bootstrap administrator created", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}

func (s *AuthService) loginRecord(email string, in LoginInput, event models.AuditEventType, severity models.AuditSeverity, status models.AuditStatus, details string) *models.AuditRecord {
	return &models.AuditRecord{
		Email:        email,
		EventType:    event,
		Severity:     severity,
		Status:       status,
		Action:       models.AuditActionLogin,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		ResourceType: models.StringPtr(models.AuditResourceTypeAccount),
		ResourceID:   models.StringPtr(email),
		Details:      details,
	}
}
