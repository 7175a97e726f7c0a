package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/parlourguard/internal/models"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// RiskProfiler exposes the read-only view of an identity's risk profile
type RiskProfiler interface {
	Profile(ctx context.Context, email string) models.RiskSnapshot
}

// RiskHandler serves risk profile lookups for administrators
type RiskHandler struct {
	profiler RiskProfiler
}

// NewRiskHandler creates a new RiskHandler
func NewRiskHandler(profiler RiskProfiler) *RiskHandler {
	return &RiskHandler{profiler: profiler}
}

// GetProfile handles GET /risk/{email}. Unseen identities report the default profile.
func (h *RiskHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "email")))
	if err := validateParam("email", email, "required,email"); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.profiler.Profile(r.Context(), email))
}
