package handlers

import (
	"errors"
	"net/http"

	"github.com/rowanvale/sentinel/internal/models"
	pkghttp "github.com/rowanvale/sentinel/pkg/http"
)

// writeServiceError maps the service error taxonomy onto HTTP responses.
// Authentication failures stay deliberately generic so responses give no
// oracle for which part of a login was wrong.
func writeServiceError(w http.ResponseWriter, err error) {
	var rateErr *models.RateLimitError

	switch {
	case errors.As(err, &rateErr):
		pkghttp.WriteRateLimited(w, "Too many requests. Please try again later.", rateErr.RetryAfter)
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteRateLimited(w, "Too many requests. Please try again later.", 0)
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrFactorConflict), errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Conflicting state")
	case errors.Is(err, models.ErrFactorNotEnrolled), errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		// transport/storage detail is logged inside the services; the
		// client sees only a generic failure
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
