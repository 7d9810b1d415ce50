package sessionauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/sessionauth/credential"
)

// CreateUser registers a new account with RoleUser and returns its id.
// No token is issued.
func (e *Engine) CreateUser(ctx context.Context, email, pw string) (string, error) {
	return e.CreateUserWithRole(ctx, email, pw, RoleUser)
}

// CreateUserWithRole registers a new account with the given role. It exists for
// bootstrapping the first administrator.
func (e *Engine) CreateUserWithRole(ctx context.Context, email, pw string, role Role) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := CheckText(email, pw); err != nil {
		return "", err
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if err := e.hasher.CheckPolicy(pw); err != nil {
		return "", ErrPasswordPolicy
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	u, err := e.users.Create(ctx, credential.NewUser{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, credential.ErrDuplicateEmail) {
			e.metricInc(MetricUserCreateDuplicate)
			e.emitAudit(ctx, auditEventUserCreated, false, "", "", ErrUserAlreadyExists, nil)
			return "", ErrUserAlreadyExists
		}
		return "", e.durableError(ctx, "create_user", err)
	}

	e.metricInc(MetricUserCreated)
	e.emitAudit(ctx, auditEventUserCreated, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"role": string(u.Role)}
	})
	return u.ID, nil
}

// UpdateUser changes the account that token belongs to.
//
// The credential store is updated first. With ForceLogout every token of the
// account is then revoked, the calling token included. Without it, a changed
// email is rewritten into live tokens on a best-effort basis. Setting Role
// fails with ErrPermissionDenied; use AdminUpdateUser.
func (e *Engine) UpdateUser(ctx context.Context, token string, upd UserUpdate) error {
	ident, err := e.VerifyToken(ctx, token)
	if err != nil {
		return err
	}
	if upd.Role != nil {
		e.denied(ctx, ident.UserID, "update_user")
		return ErrPermissionDenied
	}

	return e.applyUpdate(ctx, ident.UserID, ident.UserID, upd, auditEventUserUpdated)
}

// DeleteUser removes the account that token belongs to and revokes all its tokens.
//
// The credentials go first. If revocation then fails the call returns the
// store error with the tokens still present, and calling DeleteUser again with
// the same token finishes the job: it revokes and reports ErrUserDoesNotExist.
func (e *Engine) DeleteUser(ctx context.Context, token string) error {
	ident, err := e.VerifyToken(ctx, token)
	if err != nil {
		return err
	}

	delErr := e.users.Delete(ctx, ident.UserID)
	gone := errors.Is(delErr, credential.ErrNotFound)
	if delErr != nil && !gone {
		return e.durableError(ctx, "delete_user", delErr)
	}

	n, err := e.forceLogout(ctx, ident.UserID, "delete_user")
	if err != nil {
		return err
	}
	if gone {
		return ErrUserDoesNotExist
	}

	e.metricInc(MetricUserDeleted)
	e.emitAudit(ctx, auditEventUserDeleted, true, ident.UserID, ident.UserID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return nil
}

// applyUpdate validates upd, writes it to the credential store and then
// applies the session side.
func (e *Engine) applyUpdate(ctx context.Context, actorID, targetID string, upd UserUpdate, event string) error {
	if upd.empty() && !upd.ForceLogout {
		return nil
	}

	changes, err := e.prepareChanges(upd)
	if err != nil {
		e.emitAudit(ctx, event, false, targetID, actorID, err, nil)
		return err
	}

	if !changes.Empty() {
		if err := e.users.Update(ctx, targetID, changes); err != nil {
			switch {
			case errors.Is(err, credential.ErrNotFound):
				err = ErrUserDoesNotExist
			case errors.Is(err, credential.ErrDuplicateEmail):
				err = ErrUserAlreadyExists
			default:
				err = e.durableError(ctx, "update_user", err)
			}
			e.emitAudit(ctx, event, false, targetID, actorID, err, nil)
			return err
		}
	}

	revoked := 0
	if upd.ForceLogout {
		revoked, err = e.forceLogout(ctx, targetID, "update_user")
		if err != nil {
			e.emitAudit(ctx, event, false, targetID, actorID, err, nil)
			return err
		}
	} else if changes.Email != nil {
		if err := e.sessions.RewriteEmail(ctx, targetID, *changes.Email); err != nil {
			e.metricInc(MetricSessionCleanupFailure)
			e.log.Warn(ctx, "token email rewrite failed", "user_id", targetID, "err", err)
		}
	}

	e.metricInc(MetricUserUpdated)
	e.emitAudit(ctx, event, true, targetID, actorID, nil, func() map[string]string {
		md := map[string]string{
			"email_changed":    fmt.Sprint(changes.Email != nil),
			"password_changed": fmt.Sprint(changes.PasswordHash != nil),
			"force_logout":     fmt.Sprint(upd.ForceLogout),
		}
		if changes.Role != nil {
			md["role"] = string(*changes.Role)
		}
		if upd.ForceLogout {
			md["revoked"] = fmt.Sprint(revoked)
		}
		return md
	})
	return nil
}

func (e *Engine) prepareChanges(upd UserUpdate) (credential.Changes, error) {
	var c credential.Changes

	if upd.Email != nil {
		if err := CheckText(*upd.Email); err != nil {
			return c, err
		}
		email := normalizeEmail(*upd.Email)
		if err := validateEmail(email); err != nil {
			return c, err
		}
		c.Email = &email
	}

	if upd.Password != nil {
		if err := CheckText(*upd.Password); err != nil {
			return c, err
		}
		if err := e.hasher.CheckPolicy(*upd.Password); err != nil {
			return c, ErrPasswordPolicy
		}
		hash, err := e.hasher.Hash(*upd.Password)
		if err != nil {
			return c, fmt.Errorf("hash password: %w", err)
		}
		c.PasswordHash = &hash
	}

	if upd.Role != nil {
		if !upd.Role.Valid() {
			return c, fmt.Errorf("unknown role %q", *upd.Role)
		}
		role := *upd.Role
		c.Role = &role
	}

	return c, nil
}
