package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/models"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// SessionServiceInterface is the part of the session registry a user can drive
type SessionServiceInterface interface {
	ListActive(ctx context.Context, email string) ([]*models.Session, error)
	RevokeOwn(ctx context.Context, email, sessionID string) error
}

// SessionHandler lets a user see and revoke their own sessions
type SessionHandler struct {
	service SessionServiceInterface
	logger  *slog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{service: service, logger: logger}
}

// SessionResponse represents an active session in HTTP responses
type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Current      bool      `json:"current"`
}

// List handles GET /sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.service.ListActive(r.Context(), claims.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	response := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		response[i] = SessionResponse{
			SessionID:    s.SessionID,
			IPAddress:    s.IPAddress,
			UserAgent:    s.UserAgent,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.SessionID == claims.SessionID,
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": response,
		"total":    len(response),
	})
}

// Revoke handles DELETE /sessions/{id}. Sessions of other identities look like unknown ones.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if err := validateParam("id", sessionID, "required,uuid"); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.RevokeOwn(r.Context(), claims.Email, sessionID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
