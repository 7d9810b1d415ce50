package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/middleware"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 << 10

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateRequest struct {
	Email       *string `json:"email,omitempty"`
	Password    *string `json:"password,omitempty"`
	Role        *string `json:"role,omitempty"`
	ForceLogout bool    `json:"force_logout,omitempty"`
}

func (u updateRequest) toUserUpdate() sessionauth.UserUpdate {
	upd := sessionauth.UserUpdate{
		Email:       u.Email,
		Password:    u.Password,
		ForceLogout: u.ForceLogout,
	}
	if u.Role != nil {
		role := sessionauth.Role(*u.Role)
		upd.Role = &role
	}
	return upd
}

type expiryRequest struct {
	// Expiry is a Go duration string. "0" disables expiry.
	Expiry string `json:"expiry"`
}

type identityResponse struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ActiveTokens int        `json:"active_tokens"`
}

func clientContext(r *http.Request) context.Context {
	return sessionauth.WithClientIP(r.Context(), middleware.ClientIP(r))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (a *api) bearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		a.writeError(w, r, middleware.ErrMissingToken)
	}
	return token, ok
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := a.engine.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":            h.Healthy(),
		"durable_available":  h.DurableAvailable,
		"durable_latency_ms": h.DurableLatency.Milliseconds(),
		"session_available":  h.SessionAvailable,
		"session_latency_ms": h.SessionLatency.Milliseconds(),
	})
}

func (a *api) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var c credentialsRequest
	if !decodeJSON(w, r, &c) {
		return
	}
	if c.Email == "" || c.Password == "" {
		badRequest(w, "Email and password are required")
		return
	}

	id, err := a.engine.CreateUser(clientContext(r), c.Email, c.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentialsRequest
	if !decodeJSON(w, r, &c) {
		return
	}

	token, err := a.engine.Login(clientContext(r), c.Email, c.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// The lifetime reported is the one stored on the token, which a
	// concurrent expiry change cannot alter.
	resp := map[string]any{"token": token}
	if ident, err := a.engine.VerifyToken(clientContext(r), token); err == nil && !ident.ExpiresAt.IsZero() {
		resp["expires_in"] = int64(ident.ExpiresAt.Sub(ident.IssuedAt) / time.Second)
		resp["expires_at"] = ident.ExpiresAt.UTC()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := a.bearer(w, r)
	if !ok {
		return
	}
	if err := a.engine.Logout(clientContext(r), token); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	token, ok := a.bearer(w, r)
	if !ok {
		return
	}
	n, err := a.engine.LogoutAll(clientContext(r), token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *api) handleCurrent(w http.ResponseWriter, r *http.Request) {
	ident, _ := middleware.IdentityFromContext(r.Context())
	token, _ := middleware.TokenFromContext(r.Context())

	n, err := a.engine.ActiveTokenCount(r.Context(), token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := identityResponse{
		UserID:       ident.UserID,
		Email:        ident.Email,
		IssuedAt:     ident.IssuedAt.UTC(),
		ActiveTokens: n,
	}
	if !ident.ExpiresAt.IsZero() {
		exp := ident.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	token, ok := a.bearer(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := a.engine.UpdateUser(clientContext(r), token, req.toUserUpdate()); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	token, ok := a.bearer(w, r)
	if !ok {
		return
	}
	if err := a.engine.DeleteUser(clientContext(r), token); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	token, ok := a.bearer(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	target := mux.Vars(r)["email"]
	if target == "me" {
		target = ""
	}

	err := a.engine.AdminUpdateUser(clientContext(r), token, target, req.toUserUpdate())
	if errors.Is(err, sessionauth.ErrUserDoesNotExist) {
		writeAPIError(w, http.StatusNotFound, "USER_NOT_FOUND", "No user with this email", sessionauth.StatusUserDoesNotExist)
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	token, ok := a.bearer(w, r)
	if !ok {
		return
	}

	n, err := a.engine.AdminDeleteUser(clientContext(r), token, r.URL.Query().Get("filter"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (a *api) handleSetExpiry(w http.ResponseWriter, r *http.Request) {
	var req expiryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Expiry)
	if err != nil || d < 0 {
		badRequest(w, "expiry must be a non-negative duration such as 90m or 0")
		return
	}

	a.engine.SetTokenExpireTime(d)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGetExpiry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"expiry": a.engine.TokenExpireTime().String()})
}
