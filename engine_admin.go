package sessionauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/sessionauth/credential"
)

// RequireAdmin resolves token and checks that its account currently holds
// RoleAdmin. The role is read from the credential store on every call, so a
// demotion takes effect immediately.
func (e *Engine) RequireAdmin(ctx context.Context, token string) (Identity, error) {
	ident, err := e.VerifyToken(ctx, token)
	if err != nil {
		return Identity{}, err
	}

	u, err := e.users.GetByID(ctx, ident.UserID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.denied(ctx, ident.UserID, "require_admin")
			return Identity{}, ErrPermissionDenied
		}
		return Identity{}, e.durableError(ctx, "require_admin", err)
	}
	if u.Role != RoleAdmin {
		e.denied(ctx, ident.UserID, "require_admin")
		return Identity{}, ErrPermissionDenied
	}
	return ident, nil
}

// AdminUpdateUser applies upd to the account registered under targetEmail.
// An empty targetEmail selects the caller's own account. The caller must be
// an administrator. Unlike UpdateUser, Role may be set.
func (e *Engine) AdminUpdateUser(ctx context.Context, token, targetEmail string, upd UserUpdate) error {
	actor, err := e.RequireAdmin(ctx, token)
	if err != nil {
		return err
	}

	targetID := actor.UserID
	if strings.TrimSpace(targetEmail) != "" {
		if err := CheckText(targetEmail); err != nil {
			return err
		}
		target, err := e.users.GetByEmail(ctx, normalizeEmail(targetEmail))
		if err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				return ErrUserDoesNotExist
			}
			return e.durableError(ctx, "admin_update_user", err)
		}
		targetID = target.ID
	}

	return e.applyUpdate(ctx, actor.UserID, targetID, upd, auditEventAdminUserUpdated)
}

// AdminDeleteUser removes every account matching filter and returns how many
// were removed. Zero matches is not an error.
//
// The filter is a whitespace-separated list of key:value terms, all of which
// must match:
//
//	email:<glob>              * and ? wildcards, case-insensitive
//	role:user|admin
//	created-before:<date>     RFC 3339 or YYYY-MM-DD
//	created-after:<date>
//	id:<uuid>
//
// Tokens of removed accounts are revoked afterwards on a best-effort basis;
// failures are logged and counted, not returned.
func (e *Engine) AdminDeleteUser(ctx context.Context, token, filter string) (int, error) {
	actor, err := e.RequireAdmin(ctx, token)
	if err != nil {
		return 0, err
	}
	if err := CheckText(filter); err != nil {
		return 0, err
	}

	f, err := credential.ParseFilter(filter)
	if err != nil {
		e.emitAudit(ctx, auditEventAdminUserDeleted, false, "", actor.UserID, err, nil)
		return 0, err
	}

	ids, err := e.users.DeleteMatching(ctx, f)
	if err != nil {
		err = e.durableError(ctx, "admin_delete_user", err)
		e.emitAudit(ctx, auditEventAdminUserDeleted, false, "", actor.UserID, err, nil)
		return 0, err
	}

	var cleanupErrs []error
	for _, id := range ids {
		if _, err := e.forceLogout(ctx, id, "admin_delete_user"); err != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("user %s: %w", id, err))
		}
	}
	if len(cleanupErrs) > 0 {
		e.metricAdd(MetricSessionCleanupFailure, len(cleanupErrs))
		e.log.Warn(ctx, "token revocation after admin delete incomplete",
			"failed", len(cleanupErrs), "err", errors.Join(cleanupErrs...))
	}

	e.metricAdd(MetricAdminUserDeleted, len(ids))
	e.emitAudit(ctx, auditEventAdminUserDeleted, true, "", actor.UserID, nil, func() map[string]string {
		return map[string]string{
			"filter":  filter,
			"deleted": fmt.Sprint(len(ids)),
		}
	})
	return len(ids), nil
}

func (e *Engine) denied(ctx context.Context, userID, op string) {
	e.metricInc(MetricPermissionDenied)
	e.emitAudit(ctx, auditEventPermissionDenied, false, userID, userID, ErrPermissionDenied, func() map[string]string {
		return map[string]string{"op": op}
	})
}
