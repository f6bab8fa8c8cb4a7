package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
)

// Error codes returned alongside the HTTP status for the core error taxonomy.
// Conflicts use their ConflictKind as the code.
const (
	codeValidation        = "validation_error"
	codeNotFound          = "not_found"
	codeResourceExhausted = "resource_exhausted"
	codeAdmissionDenied   = "admission_denied"
	codeUnauthorized      = "invalid_credentials"
)

// writeCoreError maps a core service error onto an HTTP response.
func writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		response.WriteError(w, status, err.Error())
		return
	}
	response.WriteCodedError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var (
		verr *core.ValidationError
		cerr *core.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.As(err, &cerr):
		return http.StatusConflict, string(cerr.Kind)
	case errors.Is(err, core.ErrResourceExhausted):
		return http.StatusConflict, codeResourceExhausted
	case errors.Is(err, core.ErrAdmissionDenied):
		return http.StatusLocked, codeAdmissionDenied
	case errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized, codeUnauthorized
	}
	return http.StatusInternalServerError, ""
}
