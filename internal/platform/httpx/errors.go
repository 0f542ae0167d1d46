// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// StatusFor maps error kinds to HTTP status codes.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrUnprocessable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, http.StatusText(status), "")
		return
	}
	Problem(w, status, http.StatusText(status), err.Error())
}
