package sessionauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/sessionauth/credential"
	"github.com/MrEthical07/sessionauth/internal"
	"github.com/MrEthical07/sessionauth/password"
	"github.com/MrEthical07/sessionauth/session"
)

// Login checks email and password and issues a new opaque token.
//
// Empty input is rejected before any I/O: an empty email with
// ErrUserDoesNotExist, an empty password with ErrIncorrectUsernameOrPassword.
// Unknown emails still pay for one password hash.
//
// The owner's revocation epoch is read before the account row that is used for
// verification, and the token is only written while that epoch is unchanged.
// A forced logout that races this call therefore either shows up in the row or
// rejects the write, and no token outlives it. On any write failure the token
// is removed again and nothing is returned.
//
//	Flow: lookup -> epoch -> re-read -> verify -> (rehash) -> registry u:<id> -> put
//	Performance: 2 DB reads, 2 Redis round-trips, one argon2id verification.
func (e *Engine) Login(ctx context.Context, email, pw string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := CheckText(email, pw); err != nil {
		return "", err
	}
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrUserDoesNotExist
	}
	if pw == "" {
		return "", ErrIncorrectUsernameOrPassword
	}

	u, epoch, err := e.loadForLogin(ctx, email, pw)
	if err != nil {
		return "", e.loginFailed(ctx, u.ID, err)
	}

	ok, err := e.hasher.Verify(pw, u.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrPolicy) {
		e.log.Error(ctx, "stored password hash unreadable", "user_id", u.ID, "err", err)
	}
	if !ok {
		return "", e.loginFailed(ctx, u.ID, ErrIncorrectUsernameOrPassword)
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, u, pw)
	}

	token, err := e.issueToken(ctx, u, epoch)
	if err != nil {
		return "", e.loginFailed(ctx, u.ID, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, u.ID, u.ID, nil, nil)
	return token, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID string, err error) error {
	if errors.Is(err, ErrUserDoesNotExist) || errors.Is(err, ErrIncorrectUsernameOrPassword) {
		e.metricInc(MetricLoginFailure)
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", err, nil)
	return err
}

// loadForLogin returns the account row read after the owner's epoch.
func (e *Engine) loadForLogin(ctx context.Context, email, pw string) (credential.User, uint64, error) {
	u, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.hasher.Equalize(pw)
			return credential.User{}, 0, ErrUserDoesNotExist
		}
		return credential.User{}, 0, e.durableError(ctx, "login", err)
	}

	epoch, err := e.sessions.Epoch(ctx, u.ID)
	if err != nil {
		return credential.User{}, 0, e.sessionError(ctx, "login", err)
	}

	fresh, err := e.users.GetByID(ctx, u.ID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.hasher.Equalize(pw)
			return credential.User{}, 0, ErrUserDoesNotExist
		}
		return credential.User{}, 0, e.durableError(ctx, "login", err)
	}
	if fresh.Email != email {
		e.hasher.Equalize(pw)
		return credential.User{}, 0, ErrUserDoesNotExist
	}
	return fresh, epoch, nil
}

// upgradeHash re-hashes with the current parameters. Failures only log.
func (e *Engine) upgradeHash(ctx context.Context, u credential.User, plain string) {
	stale, err := e.hasher.NeedsUpgrade(u.PasswordHash)
	if err != nil || !stale {
		return
	}
	upgraded, err := e.hasher.Hash(plain)
	if err != nil {
		e.log.Warn(ctx, "password rehash failed", "user_id", u.ID, "err", err)
		return
	}
	replaced, err := e.users.ReplacePasswordHash(ctx, u.ID, u.PasswordHash, upgraded)
	if err != nil {
		e.log.Warn(ctx, "password rehash not stored", "user_id", u.ID, "err", err)
		return
	}
	if replaced {
		e.metricInc(MetricPasswordRehash)
	}
}

func (e *Engine) issueToken(ctx context.Context, u credential.User, epoch uint64) (string, error) {
	expiry := e.TokenExpireTime()

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := internal.NewToken(e.tokenBytes)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}

		now := time.Now()
		rec := &session.Record{
			UserID:   u.ID,
			Email:    u.Email,
			Epoch:    epoch,
			IssuedAt: now.UnixMilli(),
		}
		if expiry > 0 {
			rec.ExpiresAt = now.Add(expiry).UnixMilli()
		}

		err = e.putToken(ctx, token, rec)
		switch {
		case err == nil:
			return token, nil
		case errors.Is(err, session.ErrTokenExists):
			continue
		case errors.Is(err, session.ErrEpochChanged):
			return "", ErrIncorrectUsernameOrPassword
		case errors.Is(err, ErrRegistryUnavailable):
			return "", err
		default:
			e.discardToken(ctx, token)
			return "", e.sessionError(ctx, "login", err)
		}
	}
	return "", e.sessionError(ctx, "login", errors.New("token collision retries exhausted"))
}

func (e *Engine) putToken(ctx context.Context, token string, rec *session.Record) error {
	release, err := e.registry.Exclusive(ctx, userKey(rec.UserID))
	if err != nil {
		return e.registryError(ctx, "login", err)
	}
	defer release()

	return e.sessions.Put(ctx, token, rec)
}

// discardToken removes a token whose write outcome is unknown.
func (e *Engine) discardToken(ctx context.Context, token string) {
	cctx, cancel := detached(ctx)
	defer cancel()
	if _, err := e.sessions.Delete(cctx, token); err != nil {
		e.metricInc(MetricSessionCleanupFailure)
		e.log.Warn(ctx, "failed login token not removed", "err", err)
	}
}

// Logout revokes token. Revoking an unknown token succeeds.
// A malformed token fails with ErrInvalidToken without touching any store.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := internal.CheckToken(token, e.tokenBytes); err != nil {
		return ErrInvalidToken
	}

	release, err := e.registry.Exclusive(ctx, tokenKey(internal.HashToken(token)))
	if err != nil {
		return e.registryError(ctx, "logout", err)
	}
	defer release()

	existed, err := e.sessions.Delete(ctx, token)
	if err != nil {
		return e.sessionError(ctx, "logout", err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, func() map[string]string {
		if existed {
			return map[string]string{"existed": "true"}
		}
		return map[string]string{"existed": "false"}
	})
	return nil
}

// VerifyToken resolves token to the identity it was issued for.
//
// Malformed tokens fail with ErrInvalidToken. Unknown, expired and revoked
// tokens fail with ErrTokenDoesNotExist. Use IsRejected or Collapse before
// showing either to an outside caller.
//
//	Performance: 1 Redis round-trip, no registry hold.
func (e *Engine) VerifyToken(ctx context.Context, token string) (Identity, error) {
	if err := e.ready(); err != nil {
		return Identity{}, err
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()
	}

	if err := internal.CheckToken(token, e.tokenBytes); err != nil {
		e.metricInc(MetricVerifyRejected)
		return Identity{}, ErrInvalidToken
	}

	rec, err := e.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricVerifyRejected)
			return Identity{}, ErrTokenDoesNotExist
		}
		return Identity{}, e.sessionError(ctx, "verify", err)
	}

	e.metricInc(MetricVerifySuccess)
	return Identity{
		UserID:    rec.UserID,
		Email:     rec.Email,
		IssuedAt:  time.UnixMilli(rec.IssuedAt),
		ExpiresAt: rec.ExpiresAtTime(),
	}, nil
}

// LogoutAll revokes every token of the account token belongs to, token included.
// It returns the number of tokens removed.
func (e *Engine) LogoutAll(ctx context.Context, token string) (int, error) {
	ident, err := e.VerifyToken(ctx, token)
	if err != nil {
		return 0, err
	}

	n, err := e.forceLogout(ctx, ident.UserID, "logout_all")
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, ident.UserID, ident.UserID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// ActiveTokenCount returns how many live tokens the owner of token holds.
func (e *Engine) ActiveTokenCount(ctx context.Context, token string) (int, error) {
	ident, err := e.VerifyToken(ctx, token)
	if err != nil {
		return 0, err
	}

	release, err := e.registry.Shared(ctx, userKey(ident.UserID))
	if err != nil {
		return 0, e.registryError(ctx, "active_tokens", err)
	}
	defer release()

	n, err := e.sessions.ActiveTokens(ctx, ident.UserID)
	if err != nil {
		return 0, e.sessionError(ctx, "active_tokens", err)
	}
	return n, nil
}

// forceLogout deletes every token of userID and bumps its epoch under the
// user's exclusive registry hold.
func (e *Engine) forceLogout(ctx context.Context, userID, op string) (int, error) {
	release, err := e.registry.Exclusive(ctx, userKey(userID))
	if err != nil {
		return 0, e.registryError(ctx, op, err)
	}
	defer release()

	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, e.sessionError(ctx, op, err)
	}

	e.metricInc(MetricForcedLogout)
	e.metricAdd(MetricTokensRevoked, n)
	return n, nil
}
