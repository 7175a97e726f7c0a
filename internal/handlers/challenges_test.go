package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/parlourguard/internal/handlers"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/services"
)

func TestCreateChallenge_UsesSessionIdentity(t *testing.T) {
	var got services.CreateChallengeInput
	mock := &handlers.MockChallengeService{
		CreateFunc: func(ctx context.Context, in services.CreateChallengeInput) (*services.CreatedChallenge, error) {
			got = in
			return &services.CreatedChallenge{ChallengeID: testChallengeID, Type: models.ChallengeTypePhoneVerification}, nil
		},
	}
	h := handlers.NewChallengeHandler(mock, nil, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/challenges", handlers.CreateChallengeRequest{TypeHint: "PHONE_VERIFICATION"})
	req = handlers.WithAuthContext(req, "sess-1", "stylist@example.com", models.RoleMember)
	w := httptest.NewRecorder()
	h.Create(w, req)

	var resp services.CreatedChallenge
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, testChallengeID, resp.ChallengeID)
	assert.Equal(t, "stylist@example.com", got.Email)
	assert.Equal(t, models.ChallengePurposeStepUp, got.Purpose)
	assert.Equal(t, models.ChallengeTypePhoneVerification, got.TypeHint)
}

func TestCreateChallenge_EmptyBody(t *testing.T) {
	h := handlers.NewChallengeHandler(&handlers.MockChallengeService{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/challenges", nil)
	req = handlers.WithAuthContext(req, "sess-1", "stylist@example.com", models.RoleMember)
	w := httptest.NewRecorder()
	h.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateChallenge_Errors(t *testing.T) {
	h := handlers.NewChallengeHandler(&handlers.MockChallengeService{
		CreateFunc: func(ctx context.Context, in services.CreateChallengeInput) (*services.CreatedChallenge, error) {
			return nil, models.ErrConflict
		},
	}, nil, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/challenges", handlers.CreateChallengeRequest{TypeHint: "RETINA_SCAN"})
	req = handlers.WithAuthContext(req, "sess-1", "stylist@example.com", models.RoleMember)
	w := httptest.NewRecorder()
	h.Create(w, req)
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")

	req = handlers.NewTestRequest(t, http.MethodPost, "/challenges", nil)
	req = handlers.WithAuthContext(req, "sess-1", "stylist@example.com", models.RoleMember)
	w = httptest.NewRecorder()
	h.Create(w, req)
	handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")

	w = httptest.NewRecorder()
	h.Create(w, handlers.NewTestRequest(t, http.MethodPost, "/challenges", nil))
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestVerifyChallenge_WrongAnswerIsOK(t *testing.T) {
	mock := &handlers.MockChallengeService{
		VerifyFunc: func(ctx context.Context, in services.VerifyInput) (*models.VerificationResult, error) {
			return &models.VerificationResult{
				ChallengeID:       in.ChallengeID,
				Success:           false,
				State:             models.ChallengeStatePending,
				AttemptsRemaining: 2,
			}, nil
		},
	}
	h := handlers.NewChallengeHandler(mock, nil, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/challenges/verify", handlers.VerifyChallengeRequest{
		ChallengeID: testChallengeID,
		Token:       "opaque",
		Answer:      "nope",
	})
	w := httptest.NewRecorder()
	h.Verify(w, req)

	var resp models.VerificationResult
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, 2, resp.AttemptsRemaining)
	assert.NotContains(t, w.Body.String(), "email")
}

func TestVerifyChallenge_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", models.ErrNotFound, http.StatusNotFound, "not_found"},
		{"expired", models.ErrChallengeExpired, http.StatusGone, "expired"},
		{"exhausted", models.ErrAttemptsExceeded, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"lost race", models.ErrConflict, http.StatusConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewChallengeHandler(&handlers.MockChallengeService{
				VerifyFunc: func(ctx context.Context, in services.VerifyInput) (*models.VerificationResult, error) {
					return nil, tt.err
				},
			}, nil, nil)

			req := handlers.NewTestRequest(t, http.MethodPost, "/challenges/verify", handlers.VerifyChallengeRequest{
				ChallengeID: testChallengeID,
				Token:       "opaque",
			})
			w := httptest.NewRecorder()
			h.Verify(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestApproveChallenge(t *testing.T) {
	approvedAt := time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC)
	mock := &handlers.MockChallengeService{
		ApproveFunc: func(ctx context.Context, challengeID, adminEmail string) (*models.ChallengeApproval, error) {
			return &models.ChallengeApproval{ChallengeID: challengeID, ApprovedBy: adminEmail, ApprovedAt: approvedAt}, nil
		},
	}
	h := handlers.NewChallengeHandler(mock, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/challenges/"+testChallengeID+"/approve", nil)
	req = handlers.WithURLParam(req, "id", testChallengeID)
	req = handlers.WithAuthContext(req, "sess-admin", "owner@example.com", models.RoleAdmin)
	w := httptest.NewRecorder()
	h.Approve(w, req)

	var resp handlers.ApprovalResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, testChallengeID, resp.ChallengeID)
	assert.Equal(t, "owner@example.com", resp.ApprovedBy)
	assert.True(t, approvedAt.Equal(resp.ApprovedAt))
}

func TestApproveChallenge_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed id", "abc", nil, http.StatusBadRequest, "bad_request"},
		{"not an approval challenge", testChallengeID, models.NewValidationError("challenge_id", "not an admin approval challenge"), http.StatusBadRequest, "bad_request"},
		{"expired", testChallengeID, models.ErrChallengeExpired, http.StatusGone, "expired"},
		{"already resolved", testChallengeID, models.ErrConflict, http.StatusConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewChallengeHandler(&handlers.MockChallengeService{
				ApproveFunc: func(ctx context.Context, challengeID, adminEmail string) (*models.ChallengeApproval, error) {
					return nil, tt.err
				},
			}, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/admin/challenges/x/approve", nil)
			req = handlers.WithURLParam(req, "id", tt.id)
			req = handlers.WithAuthContext(req, "sess-admin", "owner@example.com", models.RoleAdmin)
			w := httptest.NewRecorder()
			h.Approve(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}
