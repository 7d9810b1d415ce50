package sessionauth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/sessionauth/session"
)

func strPtr(s string) *string { return &s }

func rolePtr(r Role) *Role { return &r }

// flakySessions fails DeleteAllForUser while failRevoke is positive.
type flakySessions struct {
	SessionStore
	failRevoke atomic.Int32
}

func (f *flakySessions) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	if f.failRevoke.Add(-1) >= 0 {
		return 0, errors.New("redis: connection reset by peer")
	}
	return f.SessionStore.DeleteAllForUser(ctx, userID)
}

func TestUpdateUserEmailKeepsTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreate(t, "alice@example.com")
	token := env.mustLogin(t, "alice@example.com", testPassword)

	err := env.engine.UpdateUser(ctx, token, UserUpdate{Email: strPtr("Alice2@Example.com")})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	ident, err := env.engine.VerifyToken(ctx, token)
	if err != nil {
		t.Fatalf("token must survive an email change without ForceLogout: %v", err)
	}
	if ident.Email != "alice2@example.com" {
		t.Fatalf("expected rewritten email, got %q", ident.Email)
	}

	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); !errors.Is(err, ErrUserDoesNotExist) {
		t.Fatalf("expected old email to be gone, got %v", err)
	}
	env.mustLogin(t, "alice2@example.com", testPassword)
}

func TestUpdateUserPasswordWithForceLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreate(t, "alice@example.com")
	t1 := env.mustLogin(t, "alice@example.com", testPassword)
	t2 := env.mustLogin(t, "alice@example.com", testPassword)

	err := env.engine.UpdateUser(ctx, t1, UserUpdate{
		Password:    strPtr("brand-new-password-1"),
		ForceLogout: true,
	})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	for _, tok := range []string{t1, t2} {
		if _, err := env.engine.VerifyToken(ctx, tok); !errors.Is(err, ErrTokenDoesNotExist) {
			t.Fatalf("expected forced logout to revoke every token, got %v", err)
		}
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); !errors.Is(err, ErrIncorrectUsernameOrPassword) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	env.mustLogin(t, "alice@example.com", "brand-new-password-1")

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricForcedLogout] != 1 || snap.Counters[MetricTokensRevoked] != 2 {
		t.Fatalf("unexpected revocation counters: %+v", snap.Counters)
	}
}

func TestUpdateUserPasswordWithoutForceLogoutKeepsTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreate(t, "alice@example.com")
	token := env.mustLogin(t, "alice@example.com", testPassword)

	if err := env.engine.UpdateUser(ctx, token, UserUpdate{Password: strPtr("brand-new-password-1")}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if _, err := env.engine.VerifyToken(ctx, token); err != nil {
		t.Fatalf("expected token to survive, got %v", err)
	}
}

func TestUpdateUserRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreate(t, "alice@example.com")
	env.mustCreate(t, "bob@example.com")
	token := env.mustLogin(t, "alice@example.com", testPassword)

	tests := []struct {
		name string
		upd  UserUpdate
		want error
	}{
		{name: "role change", upd: UserUpdate{Role: rolePtr(RoleAdmin)}, want: ErrPermissionDenied},
		{name: "taken email", upd: UserUpdate{Email: strPtr("BOB@example.com")}, want: ErrUserAlreadyExists},
		{name: "bad email", upd: UserUpdate{Email: strPtr("bob")}, want: ErrInvalidEmail},
		{name: "short password", upd: UserUpdate{Password: strPtr("short")}, want: ErrPasswordPolicy},
		{name: "invalid text", upd: UserUpdate{Password: strPtr("bad\xfftext-password")}, want: ErrInvalidText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.engine.UpdateUser(ctx, token, tt.upd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	ident, err := env.engine.VerifyToken(ctx, token)
	if err != nil {
		t.Fatalf("rejected updates must leave the token alone: %v", err)
	}
	if ident.Email != "alice@example.com" {
		t.Fatalf("rejected updates must leave the email alone, got %q", ident.Email)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricPermissionDenied]; got != 1 {
		t.Fatalf("expected one permission denial, got %d", got)
	}
}

func TestUpdateUserInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.UpdateUser(context.Background(), "nope", UserUpdate{Email: strPtr("x@example.com")})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreate(t, "alice@example.com")
	env.mustCreate(t, "bob@example.com")
	t1 := env.mustLogin(t, "alice@example.com", testPassword)
	t2 := env.mustLogin(t, "alice@example.com", testPassword)
	bob := env.mustLogin(t, "bob@example.com", testPassword)

	if err := env.engine.DeleteUser(ctx, t1); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	for _, tok := range []string{t1, t2} {
		if _, err := env.engine.VerifyToken(ctx, tok); !errors.Is(err, ErrTokenDoesNotExist) {
			t.Fatalf("expected deleted user's tokens to be revoked, got %v", err)
		}
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); !errors.Is(err, ErrUserDoesNotExist) {
		t.Fatalf("expected ErrUserDoesNotExist, got %v", err)
	}
	if _, err := env.engine.VerifyToken(ctx, bob); err != nil {
		t.Fatalf("other users must be untouched: %v", err)
	}
}

func TestDeleteUserRetryFinishesRevocation(t *testing.T) {
	var flaky *flakySessions
	env := newTestEnv(t, func(cfg *Config, b *Builder) {
		flaky = &flakySessions{SessionStore: session.NewStore(b.redis, cfg.Session.KeyPrefix)}
		b.WithSessionStore(flaky)
	})

	ctx := context.Background()
	env.mustCreate(t, "alice@example.com")
	token := env.mustLogin(t, "alice@example.com", testPassword)

	flaky.failRevoke.Store(1)
	err := env.engine.DeleteUser(ctx, token)
	if !errors.Is(err, ErrSessionStore) {
		t.Fatalf("expected ErrSessionStore, got %v", err)
	}
	if _, err := env.engine.VerifyToken(ctx, token); err != nil {
		t.Fatalf("token should still verify until revocation succeeds: %v", err)
	}

	err = env.engine.DeleteUser(ctx, token)
	if !errors.Is(err, ErrUserDoesNotExist) {
		t.Fatalf("expected retry to report ErrUserDoesNotExist, got %v", err)
	}
	if _, err := env.engine.VerifyToken(ctx, token); !errors.Is(err, ErrTokenDoesNotExist) {
		t.Fatalf("expected retry to revoke the token, got %v", err)
	}
}

func TestLogoutAllAndActiveTokenCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreate(t, "alice@example.com")
	t1 := env.mustLogin(t, "alice@example.com", testPassword)
	env.mustLogin(t, "alice@example.com", testPassword)
	env.mustLogin(t, "alice@example.com", testPassword)

	n, err := env.engine.ActiveTokenCount(ctx, t1)
	if err != nil {
		t.Fatalf("ActiveTokenCount failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 active tokens, got %d", n)
	}

	revoked, err := env.engine.LogoutAll(ctx, t1)
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked tokens, got %d", revoked)
	}
	if keys := env.tokenKeys(); len(keys) != 0 {
		t.Fatalf("expected no token records left, got %v", keys)
	}

	fresh := env.mustLogin(t, "alice@example.com", testPassword)
	if _, err := env.engine.VerifyToken(ctx, fresh); err != nil {
		t.Fatalf("login after LogoutAll must work: %v", err)
	}
}
