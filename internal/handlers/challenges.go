package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/services"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// ChallengeServiceInterface defines the challenge state machine operations exposed over HTTP
type ChallengeServiceInterface interface {
	Create(ctx context.Context, in services.CreateChallengeInput) (*services.CreatedChallenge, error)
	Verify(ctx context.Context, in services.VerifyInput) (*models.VerificationResult, error)
	Approve(ctx context.Context, challengeID, adminEmail string) (*models.ChallengeApproval, error)
}

// ChallengeHandler handles step-up challenge requests
type ChallengeHandler struct {
	service  ChallengeServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewChallengeHandler creates a new ChallengeHandler
func NewChallengeHandler(service ChallengeServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *ChallengeHandler {
	return &ChallengeHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// CreateChallengeRequest asks for a step-up challenge. TypeHint can only make it stronger.
type CreateChallengeRequest struct {
	TypeHint string `json:"type_hint" validate:"omitempty,challenge_type"`
}

// VerifyChallengeRequest is one answer to a pending challenge
type VerifyChallengeRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required,uuid"`
	Token       string `json:"token" validate:"required,max=256"`
	Answer      string `json:"answer" validate:"max=2048"`
}

// ApprovalResponse confirms an administrator approval
type ApprovalResponse struct {
	ChallengeID string    `json:"challenge_id"`
	ApprovedBy  string    `json:"approved_by"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// Create issues a step-up challenge for the caller's own identity
// @Summary Create step-up challenge
// @Security BearerAuth
// @Accept json
// @Param request body CreateChallengeRequest false "Challenge request"
// @Produce json
// @Success 201 {object} services.CreatedChallenge
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /challenges [post]
func (h *ChallengeHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req CreateChallengeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	sig := pkghttp.ExtractSignals(r, h.ipConfig)
	created, err := h.service.Create(r.Context(), services.CreateChallengeInput{
		Email:    claims.Email,
		TypeHint: models.ChallengeType(req.TypeHint),
		Purpose:  models.ChallengePurposeStepUp,
		Context: models.ChallengeContext{
			DeviceFingerprint: sig.DeviceFingerprint,
			Geolocation:       sig.Geolocation,
			IPAddress:         sig.IPAddress,
			UserAgent:         sig.UserAgent,
		},
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, created)
}

// Verify submits one answer. A wrong answer is still a 200 with success=false and the
// remaining attempts; terminal states map to 410 and 429.
// @Summary Verify challenge
// @Accept json
// @Param request body VerifyChallengeRequest true "Challenge answer"
// @Produce json
// @Success 200 {object} models.VerificationResult
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 410 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /challenges/verify [post]
func (h *ChallengeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyChallengeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Verify(r.Context(), services.VerifyInput{
		ChallengeID: req.ChallengeID,
		Token:       req.Token,
		Answer:      req.Answer,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Approve grants a pending ADMIN_APPROVAL challenge
// @Summary Approve challenge
// @Security BearerAuth
// @Param id path string true "Challenge ID"
// @Produce json
// @Success 200 {object} ApprovalResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 410 {object} pkghttp.ErrorResponse
// @Router /admin/challenges/{id}/approve [post]
func (h *ChallengeHandler) Approve(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	challengeID := chi.URLParam(r, "id")
	if err := validateParam("id", challengeID, "required,uuid"); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	approval, err := h.service.Approve(r.Context(), challengeID, claims.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ApprovalResponse{
		ChallengeID: approval.ChallengeID,
		ApprovedBy:  approval.ApprovedBy,
		ApprovedAt:  approval.ApprovedAt,
	})
}
