package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/services"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	CompleteLogin(ctx context.Context, in services.VerifyInput, ipAddress, userAgent string) (*services.LoginResult, error)
	Logout(ctx context.Context, claims *models.TokenClaims) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=128"`
}

// CompleteLoginRequest answers the challenge issued by Login
type CompleteLoginRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required,uuid"`
	Token       string `json:"token" validate:"required,max=256"`
	Answer      string `json:"answer" validate:"max=2048"`
}

// Login handles the primary credential step.
// Risk signals come from the X-Device-Fingerprint and X-Geolocation headers.
// @Summary Login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	sig := pkghttp.ExtractSignals(r, h.ipConfig)
	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:             strings.ToLower(strings.TrimSpace(req.Email)),
		Password:          req.Password,
		IPAddress:         sig.IPAddress,
		UserAgent:         sig.UserAgent,
		DeviceFingerprint: sig.DeviceFingerprint,
		Geolocation:       sig.Geolocation,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// CompleteLogin answers the login challenge and opens the session on success
// @Summary Complete login
// @Accept json
// @Param request body CompleteLoginRequest true "Challenge answer"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 410 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login/verify [post]
func (h *AuthHandler) CompleteLogin(w http.ResponseWriter, r *http.Request) {
	var req CompleteLoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.CompleteLogin(r.Context(), services.VerifyInput{
		ChallengeID: req.ChallengeID,
		Token:       req.Token,
		Answer:      req.Answer,
	}, pkghttp.ExtractClientIP(r, h.ipConfig), r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Logout revokes the session behind the bearer token
// @Summary Logout
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
