package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/middleware"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Status  int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, httpStatus int, code, message string, status int) {
	writeJSON(w, httpStatus, APIError{Code: code, Message: message, Status: status})
}

// writeError maps an engine error onto a response. Errors are collapsed first
// so unknown users and bad passwords, and malformed and unknown tokens, are
// indistinguishable.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	err = sessionauth.Collapse(err)
	status := sessionauth.StatusCode(err)

	switch {
	case errors.Is(err, middleware.ErrMissingToken):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeAPIError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing bearer token", sessionauth.StatusInvalidToken)
	case errors.Is(err, sessionauth.ErrIncorrectUsernameOrPassword):
		writeAPIError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", status)
	case errors.Is(err, sessionauth.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeAPIError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", status)
	case errors.Is(err, sessionauth.ErrUserAlreadyExists):
		writeAPIError(w, http.StatusConflict, "USER_EXISTS", "User with this email already exists", status)
	case errors.Is(err, sessionauth.ErrPermissionDenied):
		writeAPIError(w, http.StatusForbidden, "PERMISSION_DENIED", "Admin role required", status)
	case errors.Is(err, sessionauth.ErrInvalidEmail):
		writeAPIError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email address", status)
	case errors.Is(err, sessionauth.ErrPasswordPolicy):
		writeAPIError(w, http.StatusBadRequest, "PASSWORD_POLICY", "Password does not meet the length policy", status)
	case errors.Is(err, sessionauth.ErrInvalidFilter):
		writeAPIError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), status)
	case errors.Is(err, sessionauth.ErrInvalidText):
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "Input must be valid UTF-8 without NUL bytes", status)
	case errors.Is(err, sessionauth.ErrRegistryUnavailable):
		w.Header().Set("Retry-After", "1")
		writeAPIError(w, http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", "Try again", status)
	case sessionauth.IsRetryable(err), errors.Is(err, sessionauth.ErrEngineClosed):
		w.Header().Set("Retry-After", "1")
		writeAPIError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "Service temporarily unavailable", status)
	default:
		a.log.Error(r.Context(), "unhandled engine error", "path", r.URL.Path, "err", err)
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", status)
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", message, sessionauth.StatusInvalidInput)
}
