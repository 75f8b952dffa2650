package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors shared by the domain layers.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrTransient    = errors.New("transient server error")
	ErrUnauthorized = errors.New("unauthorized")
)

// Problemer lets domain error types describe their own problem response.
type Problemer interface {
	Problem() (status int, title string, ext map[string]any)
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var problemer Problemer
	if errors.As(err, &problemer) {
		status, title, ext := problemer.Problem()
		ProblemWith(w, status, title, err.Error(), ext)
		return
	}
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &invalid):
		Problem(w, http.StatusBadRequest, "Validation Failed", invalid.Error())
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrTransient):
		Problem(w, http.StatusServiceUnavailable, "Transient Error", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
