package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// ReportGenerator builds security reports over the audit store
type ReportGenerator interface {
	GenerateSecurityReport(ctx context.Context, start, end time.Time) (*models.SecurityReport, error)
}

// ReportHandler serves security reports
type ReportHandler struct {
	generator ReportGenerator
	logger    *slog.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(generator ReportGenerator, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{generator: generator, logger: logger}
}

// GetSecurityReport handles GET /reports/security?start=...&end=... (RFC 3339)
func (h *ReportHandler) GetSecurityReport(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "start must be an RFC 3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "end must be an RFC 3339 timestamp")
		return
	}

	report, err := h.generator.GenerateSecurityReport(r.Context(), start, end)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, report)
}
