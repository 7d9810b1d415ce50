package sessionauth

import (
	"context"
	"time"

	"github.com/MrEthical07/sessionauth/credential"
	"github.com/MrEthical07/sessionauth/session"
)

// Role is the privilege level of an account.
type Role = credential.Role

const (
	// RoleUser is the default role of every new account.
	RoleUser = credential.RoleUser
	// RoleAdmin may call the Admin* operations.
	RoleAdmin = credential.RoleAdmin
)

// Identity is what a valid token resolves to.
type Identity struct {
	UserID string
	Email  string

	IssuedAt time.Time
	// ExpiresAt is zero for tokens issued while expiry was disabled.
	ExpiresAt time.Time
}

// UserUpdate lists the account changes to apply. Nil fields are left as they are.
//
// Role is only honoured by AdminUpdateUser. ForceLogout revokes every token of
// the target account after the change, including the one used for the call.
type UserUpdate struct {
	Email       *string
	Password    *string
	Role        *Role
	ForceLogout bool
}

func (u UserUpdate) empty() bool {
	return u.Email == nil && u.Password == nil && u.Role == nil
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	DurableAvailable bool
	DurableLatency   time.Duration
	SessionAvailable bool
	SessionLatency   time.Duration
}

// Healthy reports whether both stores answered.
func (h HealthStatus) Healthy() bool {
	return h.DurableAvailable && h.SessionAvailable
}

// CredentialStore is the durable account store. *credential.Store implements it.
type CredentialStore interface {
	Create(ctx context.Context, u credential.NewUser) (credential.User, error)
	GetByEmail(ctx context.Context, email string) (credential.User, error)
	GetByID(ctx context.Context, id string) (credential.User, error)
	Update(ctx context.Context, id string, c credential.Changes) error
	ReplacePasswordHash(ctx context.Context, id, oldHash, newHash string) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteMatching(ctx context.Context, f credential.Filter) ([]string, error)
	Ping(ctx context.Context) error
}

// SessionStore is the token store. *session.Store implements it.
type SessionStore interface {
	Epoch(ctx context.Context, userID string) (uint64, error)
	Put(ctx context.Context, token string, rec *session.Record) error
	Get(ctx context.Context, token string) (*session.Record, error)
	Delete(ctx context.Context, token string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	RewriteEmail(ctx context.Context, userID, email string) error
	ActiveTokens(ctx context.Context, userID string) (int, error)
	Ping(ctx context.Context) (time.Duration, error)
}

var (
	_ CredentialStore = (*credential.Store)(nil)
	_ SessionStore    = (*session.Store)(nil)
)
