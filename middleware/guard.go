package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/sessionauth"
)

// Verifier resolves a bearer token. *sessionauth.Engine implements it.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (sessionauth.Identity, error)
}

// AdminVerifier resolves a bearer token and checks the admin role.
// *sessionauth.Engine implements it.
type AdminVerifier interface {
	RequireAdmin(ctx context.Context, token string) (sessionauth.Identity, error)
}

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// ErrMissingToken is passed to the ErrorHandler when no bearer token is present.
var ErrMissingToken = errors.New("missing bearer token")

type identityContextKey struct{}

type tokenContextKey struct{}

// IdentityFromContext returns the identity stored by a guard.
func IdentityFromContext(ctx context.Context) (sessionauth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(sessionauth.Identity)
	return id, ok
}

// TokenFromContext returns the bearer token accepted by a guard.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenContextKey{}).(string)
	return tok, ok
}

// RequireToken rejects requests without a valid bearer token. A nil onError
// selects DefaultErrorHandler.
func RequireToken(v Verifier, onError ErrorHandler) func(http.Handler) http.Handler {
	if v == nil {
		return guard(nil, onError)
	}
	return guard(v.VerifyToken, onError)
}

// RequireAdmin is RequireToken plus a fresh role check.
func RequireAdmin(v AdminVerifier, onError ErrorHandler) func(http.Handler) http.Handler {
	if v == nil {
		return guard(nil, onError)
	}
	return guard(v.RequireAdmin, onError)
}

func guard(check func(context.Context, string) (sessionauth.Identity, error), onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = DefaultErrorHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if check == nil {
				onError(w, r, sessionauth.ErrEngineClosed)
				return
			}

			token, ok := BearerToken(r)
			if !ok {
				onError(w, r, ErrMissingToken)
				return
			}

			ctx := sessionauth.WithClientIP(r.Context(), ClientIP(r))
			ident, err := check(ctx, token)
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx = context.WithValue(ctx, identityContextKey{}, ident)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DefaultErrorHandler writes a plain-text status. Token rejections all look
// the same to the client.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingToken), sessionauth.IsRejected(err):
		w.Header().Set("WWW-Authenticate", `Bearer`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, sessionauth.ErrPermissionDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	case sessionauth.IsRetryable(err), errors.Is(err, sessionauth.ErrEngineClosed):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
