package api

import (
	"errors"
	"net/http"

	"RegimeDesk/internal/domain/models"
	xhttp "RegimeDesk/pkg/http"
)

// toAppError maps the engine's error taxonomy onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var out *xhttp.AppError
	switch models.KindOf(err) {
	case models.ErrNotFound:
		out = xhttp.NewAppError("ERR_NOT_FOUND", "", err.Error(), http.StatusNotFound)
	case models.ErrInvalidState:
		out = xhttp.NewAppError("ERR_INVALID_STATE", "", err.Error(), http.StatusConflict)
	case models.ErrDataUnavailable:
		out = xhttp.NewAppError("ERR_DATA_UNAVAILABLE", "", err.Error(), http.StatusServiceUnavailable)
	case models.ErrMissingPrerequisite:
		out = xhttp.NewAppError("ERR_MISSING_PREREQUISITE", "", err.Error(), http.StatusUnprocessableEntity)
	case models.ErrExecutionFailure:
		out = xhttp.NewAppError("ERR_EXECUTION_FAILURE", "", err.Error(), http.StatusBadGateway)
	case models.ErrInvariantViolation:
		out = xhttp.NewAppError("ERR_INVARIANT_VIOLATION", "", err.Error(), http.StatusInternalServerError)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}

	var de *models.DomainError
	if errors.As(err, &de) {
		if de.Regime != "" {
			out.WithParam("regime", de.Regime)
		}
		if de.Action != "" {
			out.WithParam("action", de.Action)
		}
	}
	return out.WithError(err)
}
