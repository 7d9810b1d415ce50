// Package httpapi exposes an Engine over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/logging"
	"github.com/MrEthical07/sessionauth/middleware"
	"github.com/gorilla/mux"
)

// Engine is the subset of *sessionauth.Engine the routes call.
type Engine interface {
	CreateUser(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, token string) (int, error)
	VerifyToken(ctx context.Context, token string) (sessionauth.Identity, error)
	ActiveTokenCount(ctx context.Context, token string) (int, error)
	UpdateUser(ctx context.Context, token string, upd sessionauth.UserUpdate) error
	DeleteUser(ctx context.Context, token string) error
	RequireAdmin(ctx context.Context, token string) (sessionauth.Identity, error)
	AdminUpdateUser(ctx context.Context, token, targetEmail string, upd sessionauth.UserUpdate) error
	AdminDeleteUser(ctx context.Context, token, filter string) (int, error)
	SetTokenExpireTime(d time.Duration)
	TokenExpireTime() time.Duration
	Health(ctx context.Context) sessionauth.HealthStatus
}

var _ Engine = (*sessionauth.Engine)(nil)

// Options configures NewRouter.
type Options struct {
	// Logger receives one line per request. Nil discards.
	Logger logging.Logger
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
}

type api struct {
	engine Engine
	log    logging.Logger
}

// NewRouter wires every route onto a gorilla/mux router.
func NewRouter(engine Engine, opts Options) *mux.Router {
	a := &api{engine: engine, log: opts.Logger}
	if a.log == nil {
		a.log = logging.Nop()
	}

	r := mux.NewRouter()
	r.Use(a.logRequests)

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/users", a.handleCreateUser).Methods(http.MethodPost)
	v1.HandleFunc("/users/me", a.handleUpdateMe).Methods(http.MethodPatch)
	v1.HandleFunc("/users/me", a.handleDeleteMe).Methods(http.MethodDelete)

	v1.HandleFunc("/sessions", a.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/sessions", a.handleLogout).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/all", a.handleLogoutAll).Methods(http.MethodDelete)
	v1.Handle("/sessions/current",
		middleware.RequireToken(engine, a.writeError)(http.HandlerFunc(a.handleCurrent)),
	).Methods(http.MethodGet)

	v1.HandleFunc("/admin/users/{email}", a.handleAdminUpdate).Methods(http.MethodPatch)
	v1.HandleFunc("/admin/users", a.handleAdminDelete).Methods(http.MethodDelete)
	v1.Handle("/admin/token-expiry",
		middleware.RequireAdmin(engine, a.writeError)(http.HandlerFunc(a.handleSetExpiry)),
	).Methods(http.MethodPut)
	v1.Handle("/admin/token-expiry",
		middleware.RequireAdmin(engine, a.writeError)(http.HandlerFunc(a.handleGetExpiry)),
	).Methods(http.MethodGet)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
