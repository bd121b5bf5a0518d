package api

import (
	"errors"
	"net/http"

	"lakemart/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var transient *domain.TransientError
	var invariant *domain.InvariantViolationError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	case errors.As(err, &invariant):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
