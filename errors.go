package sessionauth

import (
	"errors"

	"github.com/MrEthical07/sessionauth/credential"
)

var (
	// ErrUserAlreadyExists is returned when creating an account whose email is taken.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserDoesNotExist is returned when no account matches the email or identity.
	ErrUserDoesNotExist = errors.New("user does not exist")
	// ErrIncorrectUsernameOrPassword is returned when the password does not match.
	ErrIncorrectUsernameOrPassword = errors.New("incorrect username or password")
	// ErrInvalidToken is returned for tokens that fail structural validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenDoesNotExist is returned for tokens that are absent, expired or revoked.
	ErrTokenDoesNotExist = errors.New("token does not exist")
	// ErrRegistryUnavailable is returned when the token registry could not be
	// acquired in time. Retrying is safe.
	ErrRegistryUnavailable = errors.New("token registry unavailable")
	// ErrDurableStore matches every StoreError raised by the credential store.
	ErrDurableStore = errors.New("durable store error")
	// ErrSessionStore matches every StoreError raised by the session store.
	ErrSessionStore = errors.New("session store error")

	// ErrPermissionDenied is returned when an admin operation is called without the admin role.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPasswordPolicy is returned when a new password falls outside the length bounds.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidEmail is returned when a new email is not a plausible address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidFilter is returned when an admin delete filter cannot be parsed.
	ErrInvalidFilter = credential.ErrInvalidFilter
	// ErrInvalidText is returned for input that is not valid UTF-8 or contains NUL.
	ErrInvalidText = errors.New("invalid text encoding")
	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// StoreKind names the backing store a StoreError came from.
type StoreKind int

const (
	// StoreDurable is the relational credential store.
	StoreDurable StoreKind = iota + 1
	// StoreSession is the key-value session store.
	StoreSession
)

func (k StoreKind) String() string {
	switch k {
	case StoreDurable:
		return "durable"
	case StoreSession:
		return "session"
	default:
		return "unknown"
	}
}

// StoreError reports a backing-store failure. Its message never carries driver
// text; the cause is reachable through errors.Unwrap for internal logging.
type StoreError struct {
	Kind StoreKind
	Op   string

	cause error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return e.Kind.String() + " store error"
	}
	return e.Kind.String() + " store error during " + e.Op
}

func (e *StoreError) Unwrap() error { return e.cause }

// Is lets errors.Is match ErrDurableStore and ErrSessionStore by kind.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrDurableStore:
		return e.Kind == StoreDurable
	case ErrSessionStore:
		return e.Kind == StoreSession
	}
	return false
}
