package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/parlourguard/internal/models"
	pkgauth "github.com/BradenHooton/parlourguard/pkg/auth"
)

const testPassword = "Correct-Horse-Battery-9"

func seedCredential(t *testing.T, h *harness, email, role, status string) {
	t.Helper()
	hash, err := pkgauth.HashPasswordWithCost(testPassword, 4)
	require.NoError(t, err)
	require.NoError(t, h.credentialStore.Upsert(context.Background(), &models.Credential{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       status,
	}))
}

func TestAuthService_LoginThroughChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedCredential(t, h, "ana@example.com", models.RoleMember, models.CredentialStatusActive)

	login, err := h.auth.Login(ctx, LoginInput{Email: "Ana@example.com", Password: testPassword, IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, LoginStatusChallengeRequired, login.Status)
	require.NotNil(t, login.Challenge)
	assert.Equal(t, models.ChallengeTypeCaptcha, login.Challenge.Type)
	assert.Empty(t, login.AccessToken)

	done, err := h.auth.CompleteLogin(ctx, VerifyInput{
		ChallengeID: login.Challenge.ChallengeID,
		Token:       login.Challenge.Token,
		Answer:      "correct",
	}, "10.0.0.1", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, LoginStatusAuthenticated, done.Status)
	require.NotEmpty(t, done.AccessToken)
	require.NotNil(t, done.Verification)
	assert.True(t, done.Verification.Success)

	claims, err := h.tm.ValidateToken(done.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, done.SessionID, claims.SessionID)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, models.RoleMember, claims.Role)

	_, err = h.sessions.Validate(ctx, done.SessionID)
	require.NoError(t, err)
	assert.Len(t, h.recordsOfType(t, models.AuditEventLoginSuccess), 1)

	// One challenge opens one session
	_, err = h.auth.CompleteLogin(ctx, VerifyInput{
		ChallengeID: login.Challenge.ChallengeID,
		Token:       login.Challenge.Token,
		Answer:      "correct",
	}, "10.0.0.1", "test-agent")
	assert.ErrorIs(t, err, models.ErrConflict)

	active, err := h.sessions.ListActive(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestAuthService_WrongAnswersReportProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedCredential(t, h, "bo@example.com", models.RoleMember, models.CredentialStatusActive)

	login, err := h.auth.Login(ctx, LoginInput{Email: "bo@example.com", Password: testPassword})
	require.NoError(t, err)
	in := VerifyInput{ChallengeID: login.Challenge.ChallengeID, Token: login.Challenge.Token, Answer: "wrong"}

	for i := 0; i < 2; i++ {
		out, err := h.auth.CompleteLogin(ctx, in, "", "")
		require.NoError(t, err)
		assert.Equal(t, LoginStatusChallengePending, out.Status)
	}

	out, err := h.auth.CompleteLogin(ctx, in, "", "")
	require.NoError(t, err)
	assert.Equal(t, LoginStatusChallengeFailed, out.Status)
	assert.Equal(t, 0, out.Verification.AttemptsRemaining)

	_, err = h.auth.CompleteLogin(ctx, in, "", "")
	assert.ErrorIs(t, err, models.ErrAttemptsExceeded)
}

func TestAuthService_LowRiskBypass(t *testing.T) {
	h := newHarness(t)
	h.auth.config.AllowLowRiskBypass = true
	ctx := context.Background()
	seedCredential(t, h, "cy@example.com", models.RoleAdmin, models.CredentialStatusActive)

	login, err := h.auth.Login(ctx, LoginInput{Email: "cy@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, LoginStatusAuthenticated, login.Status)
	assert.NotEmpty(t, login.AccessToken)
	assert.Nil(t, login.Challenge)

	claims, err := h.tm.ValidateToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Empty(t, h.recordsOfType(t, models.AuditEventChallengeCreated))

	// An unknown device lifts the score out of LOW, so a challenge is still required
	h.clock.Advance(time.Hour)
	login, err = h.auth.Login(ctx, LoginInput{Email: "cy@example.com", Password: testPassword, DeviceFingerprint: strPtr("new-laptop")})
	require.NoError(t, err)
	assert.Equal(t, LoginStatusChallengeRequired, login.Status)
	assert.Equal(t, models.ChallengeTypeEmailVerification, login.Challenge.Type)
}

func TestAuthService_WrongPasswordLocksAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedCredential(t, h, "dee@example.com", models.RoleMember, models.CredentialStatusActive)

	for i := 0; i < 4; i++ {
		_, err := h.auth.Login(ctx, LoginInput{Email: "dee@example.com", Password: "nope"})
		assert.ErrorIs(t, err, models.ErrUnauthorized, "attempt %d", i+1)
	}

	_, err := h.auth.Login(ctx, LoginInput{Email: "dee@example.com", Password: "nope"})
	var lockedErr *models.AccountLockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, 15, lockedErr.RemainingMinutes)

	// The right password does not get through a lock
	_, err = h.auth.Login(ctx, LoginInput{Email: "dee@example.com", Password: testPassword})
	assert.ErrorIs(t, err, models.ErrAccountLocked)

	failures := h.recordsOfType(t, models.AuditEventLoginFailure)
	require.Len(t, failures, 6)
	assert.Equal(t, models.AuditStatusBlocked, failures[5].Status)
	assert.Len(t, h.recordsOfType(t, models.AuditEventAccountLocked), 1)

	snap := h.engine.Profile(ctx, "dee@example.com")
	assert.Equal(t, 5, snap.ConsecutiveFailures)

	h.clock.Advance(15 * time.Minute)
	login, err := h.auth.Login(ctx, LoginInput{Email: "dee@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, LoginStatusChallengeRequired, login.Status)
}

func TestAuthService_UnknownIdentityIsTreatedAlike(t *testing.T) {
	h := newHarness(t)
	h.lockouts.policy = models.LockoutPolicy{MaxAttempts: 2, Duration: 15 * time.Minute}
	ctx := context.Background()

	_, err := h.auth.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = h.auth.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, models.ErrAccountLocked)

	_, err = h.auth.Login(ctx, LoginInput{Email: "", Password: "whatever"})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_DisabledCredential(t *testing.T) {
	h := newHarness(t)
	seedCredential(t, h, "eve@example.com", models.RoleMember, models.CredentialStatusDisabled)

	_, err := h.auth.Login(context.Background(), LoginInput{Email: "eve@example.com", Password: testPassword})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_RecentFailuresEscalateChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedCredential(t, h, "fay@example.com", models.RoleMember, models.CredentialStatusActive)

	for i := 0; i < 2; i++ {
		_, err := h.auth.Login(ctx, LoginInput{Email: "fay@example.com", Password: "nope"})
		require.ErrorIs(t, err, models.ErrUnauthorized)
	}

	// base 0.5 after two failures, +0.3 rapid retry
	login, err := h.auth.Login(ctx, LoginInput{Email: "fay@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, login.Challenge.RiskScore, 1e-9)
	assert.Equal(t, models.ChallengeTypeAdminApproval, login.Challenge.Type)
	assert.Equal(t, models.SecurityLevelCritical, login.Challenge.SecurityLevel)
}

func TestAuthService_SingleTypoIsCountedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedCredential(t, h, "gil@example.com", models.RoleMember, models.CredentialStatusActive)

	_, err := h.auth.Login(ctx, LoginInput{Email: "gil@example.com", Password: "typo"})
	require.ErrorIs(t, err, models.ErrUnauthorized)

	// base 0.4 after one failure, +0.3 rapid retry
	h.clock.Advance(30 * time.Second)
	login, err := h.auth.Login(ctx, LoginInput{Email: "gil@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, login.Challenge.RiskScore, 1e-9)
	assert.Equal(t, models.ChallengeTypePhoneVerification, login.Challenge.Type)
	assert.Equal(t, models.SecurityLevelHigh, login.Challenge.SecurityLevel)
}

func TestAuthService_CompleteLoginRejectsStepUpChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedCredential(t, h, "gus@example.com", models.RoleMember, models.CredentialStatusActive)

	created, err := h.challenges.Create(ctx, CreateChallengeInput{Email: "gus@example.com", Purpose: models.ChallengePurposeStepUp})
	require.NoError(t, err)

	_, err = h.auth.CompleteLogin(ctx, VerifyInput{ChallengeID: created.ChallengeID, Token: created.Token, Answer: "correct"}, "", "")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAuthService_Logout(t *testing.T) {
	h := newHarness(t)
	h.auth.config.AllowLowRiskBypass = true
	ctx := context.Background()
	seedCredential(t, h, "hal@example.com", models.RoleMember, models.CredentialStatusActive)

	login, err := h.auth.Login(ctx, LoginInput{Email: "hal@example.com", Password: testPassword})
	require.NoError(t, err)
	claims, err := h.tm.ValidateToken(login.AccessToken)
	require.NoError(t, err)

	require.NoError(t, h.auth.Logout(ctx, claims))

	_, err = h.sessions.Validate(ctx, claims.SessionID)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Len(t, h.recordsOfType(t, models.AuditEventLogout), 1)
}

func TestAuthService_BootstrapAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Error(t, h.auth.BootstrapAdmin(ctx, "root@example.com", "short"))

	require.NoError(t, h.auth.BootstrapAdmin(ctx, "Root@Example.com", testPassword))
	cred, err := h.credentialStore.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, cred.Role)
	assert.NoError(t, pkgauth.ComparePassword(cred.PasswordHash, testPassword))

	// An existing credential is never overwritten
	require.NoError(t, h.auth.BootstrapAdmin(ctx, "root@example.com", "Another-Strong-Pass-42"))
	again, err := h.credentialStore.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, cred.PasswordHash, again.PasswordHash)

	require.NoError(t, h.auth.BootstrapAdmin(ctx, "", testPassword))
	assert.Len(t, h.recordsOfType(t, models.AuditEventPermissionChange), 1)
}
