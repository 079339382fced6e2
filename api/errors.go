package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/warp/clinic-engine/core"
	"go.uber.org/zap"
)

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// statusFor maps a core error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrIdentityResolution):
		if core.IsTransient(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrIdentityInactive),
		errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrProductNotFound),
		errors.Is(err, core.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrProductInactive):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnitMismatch),
		errors.Is(err, core.ErrUnknownUnit):
		return http.StatusUnprocessableEntity
	case core.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Server-side failures get
// a generic message; the cause is logged instead.
func respondError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	code := core.Code(err)

	switch {
	case status == http.StatusServiceUnavailable:
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
		writeError(w, status, code, "service temporarily unavailable", nil)
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "INTERNAL", "internal error", nil)
	case errors.Is(err, core.ErrPermissionDenied):
		writeError(w, status, code, core.ErrPermissionDenied.Error(), nil)
	default:
		writeError(w, status, code, err.Error(), nil)
	}
}
