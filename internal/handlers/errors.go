package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/parlourguard/internal/models"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// writeServiceError maps service errors onto the HTTP taxonomy. Anything unrecognised is logged
// and reported as a 500 without leaking the cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var lockedErr *models.AccountLockedError
	var validationErr *models.ValidationError

	switch {
	case errors.As(err, &lockedErr):
		pkghttp.WriteAccountLocked(w, lockedErr.RemainingMinutes)
	case errors.As(err, &validationErr):
		pkghttp.WriteBadRequest(w, validationErr.Error())
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "insufficient permissions")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrChallengeExpired):
		pkghttp.WriteGone(w, "Challenge has expired")
	case errors.Is(err, models.ErrAttemptsExceeded):
		pkghttp.WriteTooManyRequests(w, "Challenge attempts exceeded")
	case errors.Is(err, models.ErrDependencyUnavailable):
		pkghttp.WriteUnavailable(w, "Service temporarily unavailable")
	default:
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
		}
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
