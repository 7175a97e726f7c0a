package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/parlourguard/internal/models"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// AuditRecorder appends externally supplied audit records
type AuditRecorder interface {
	Record(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error)
}

// AuditHandler lets other components of the platform append to the audit store
type AuditHandler struct {
	recorder AuditRecorder
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(recorder AuditRecorder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		recorder: recorder,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// AuditRecordRequest is an audit record submitted by another component.
// Id and timestamp are always assigned by the store.
type AuditRecordRequest struct {
	Email        string                 `json:"email" validate:"required,email"`
	EventType    string                 `json:"event_type" validate:"required,audit_event"`
	Severity     string                 `json:"severity" validate:"omitempty,audit_severity"`
	Status       string                 `json:"status" validate:"omitempty,audit_status"`
	Action       string                 `json:"action" validate:"max=64"`
	IPAddress    string                 `json:"ip_address" validate:"omitempty,ip"`
	UserAgent    string                 `json:"user_agent" validate:"max=512"`
	ResourceType *string                `json:"resource_type" validate:"omitempty,max=64"`
	ResourceID   *string                `json:"resource_id" validate:"omitempty,max=256"`
	Details      string                 `json:"details" validate:"max=2048"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// CreateRecord handles POST /audit/records
func (h *AuditHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req AuditRecordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := req.IPAddress
	if ipAddress == "" {
		ipAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	}

	rec, err := h.recorder.Record(r.Context(), &models.AuditRecord{
		Email:        req.Email,
		EventType:    models.AuditEventType(strings.ToUpper(req.EventType)),
		Severity:     models.AuditSeverity(strings.ToUpper(req.Severity)),
		Status:       models.AuditStatus(strings.ToUpper(req.Status)),
		Action:       req.Action,
		IPAddress:    ipAddress,
		UserAgent:    req.UserAgent,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Details:      req.Details,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, rec)
}
