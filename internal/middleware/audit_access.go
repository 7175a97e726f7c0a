package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/models"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// AuditAppender appends a record to the audit store
type AuditAppender interface {
	Append(ctx context.Context, rec *models.AuditRecord)
}

// AuditAccess appends a RESOURCE_ACCESS record for every authenticated request on the route.
// The resource id is read from the idParam URL parameter when set. Use after auth.AuthMiddleware.
func AuditAccess(appender AuditAppender, resourceType, idParam string, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			claims := auth.GetClaimsFromContext(r)
			if claims == nil {
				return
			}

			rec := &models.AuditRecord{
				Email:        claims.Email,
				EventType:    models.AuditEventResourceAccess,
				Severity:     models.AuditSeverityInfo,
				Status:       accessStatus(wrapped.Status()),
				Action:       accessAction(r.Method),
				IPAddress:    pkghttp.ExtractClientIP(r, ipConfig),
				UserAgent:    r.Header.Get("User-Agent"),
				ResourceType: models.StringPtr(resourceType),
				Metadata: models.AuditMetadata{
					"route":      routePattern(r),
					"request_id": middleware.GetReqID(r.Context()),
				},
			}
			if idParam != "" {
				if id := chi.URLParam(r, idParam); id != "" {
					rec.ResourceID = models.StringPtr(id)
				}
			}
			if rec.Status == models.AuditStatusBlocked {
				rec.Severity = models.AuditSeverityWarning
			}

			appender.Append(context.WithoutCancel(r.Context()), rec)
		})
	}
}

func accessStatus(code int) models.AuditStatus {
	switch {
	case code == 0 || code < http.StatusBadRequest:
		return models.AuditStatusSuccess
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.AuditStatusBlocked
	default:
		return models.AuditStatusFailure
	}
}

func accessAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return models.AuditActionAccess
	case http.MethodPost:
		return models.AuditActionCreate
	case http.MethodPut, http.MethodPatch:
		return models.AuditActionUpdate
	case http.MethodDelete:
		return models.AuditActionDelete
	default:
		return method
	}
}
