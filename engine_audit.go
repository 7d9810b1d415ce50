package sessionauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventUserCreated        = "user_created"
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLogout             = "logout"
	auditEventLogoutAll          = "logout_all"
	auditEventUserUpdated        = "user_updated"
	auditEventUserDeleted        = "user_deleted"
	auditEventAdminUserUpdated   = "admin_user_updated"
	auditEventAdminUserDeleted   = "admin_user_deleted"
	auditEventTokenExpiryChanged = "token_expiry_changed"
	auditEventPermissionDenied   = "permission_denied"
)

// AuditErrorCode is the coarse failure class recorded on audit events.
type AuditErrorCode string

const (
	auditErrDuplicate           AuditErrorCode = "duplicate"
	auditErrUserNotFound        AuditErrorCode = "user_not_found"
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrPermissionDenied    AuditErrorCode = "permission_denied"
	auditErrInvalidInput        AuditErrorCode = "invalid_input"
	auditErrRegistryUnavailable AuditErrorCode = "registry_unavailable"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	actorID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		ActorID:   actorID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUserAlreadyExists):
		return auditErrDuplicate
	case errors.Is(err, ErrUserDoesNotExist):
		return auditErrUserNotFound
	case errors.Is(err, ErrIncorrectUsernameOrPassword):
		return auditErrInvalidCredentials
	case IsRejected(err):
		return auditErrInvalidToken
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, ErrInvalidText):
		return auditErrInvalidInput
	case errors.Is(err, ErrRegistryUnavailable):
		return auditErrRegistryUnavailable
	case errors.Is(err, ErrDurableStore), errors.Is(err, ErrSessionStore):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
