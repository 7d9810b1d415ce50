package sessionauth

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Status codes for callers that can only carry a small integer across their
// boundary. Zero is success; the first eight follow the error taxonomy order.
const (
	StatusOK                          = 0
	StatusUserAlreadyExists           = -1
	StatusUserDoesNotExist            = -2
	StatusIncorrectUsernameOrPassword = -3
	StatusInvalidToken                = -4
	StatusTokenDoesNotExist           = -5
	StatusRegistryUnavailable         = -6
	StatusDurableStore                = -7
	StatusSessionStore                = -8
	StatusInvalidText                 = -9
	StatusPermissionDenied            = -10
	StatusInvalidInput                = -11
	StatusEngineClosed                = -12
	StatusUnknown                     = -127
)

// StatusCode maps err onto the stable integer codes above.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUserAlreadyExists):
		return StatusUserAlreadyExists
	case errors.Is(err, ErrUserDoesNotExist):
		return StatusUserDoesNotExist
	case errors.Is(err, ErrIncorrectUsernameOrPassword):
		return StatusIncorrectUsernameOrPassword
	case errors.Is(err, ErrInvalidToken):
		return StatusInvalidToken
	case errors.Is(err, ErrTokenDoesNotExist):
		return StatusTokenDoesNotExist
	case errors.Is(err, ErrRegistryUnavailable):
		return StatusRegistryUnavailable
	case errors.Is(err, ErrDurableStore):
		return StatusDurableStore
	case errors.Is(err, ErrSessionStore):
		return StatusSessionStore
	case errors.Is(err, ErrInvalidText):
		return StatusInvalidText
	case errors.Is(err, ErrPermissionDenied):
		return StatusPermissionDenied
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrInvalidFilter):
		return StatusInvalidInput
	case errors.Is(err, ErrEngineClosed):
		return StatusEngineClosed
	default:
		return StatusUnknown
	}
}

// IsRetryable reports whether err is transient: a registry timeout or a store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRegistryUnavailable) ||
		errors.Is(err, ErrDurableStore) ||
		errors.Is(err, ErrSessionStore)
}

// IsRejected reports whether err means the presented token must be refused.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenDoesNotExist)
}

// Collapse folds outcomes that must look identical to an outside observer:
// unknown user and wrong password become ErrIncorrectUsernameOrPassword, and
// every token rejection becomes ErrInvalidToken. Other errors pass through.
func Collapse(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserDoesNotExist), errors.Is(err, ErrIncorrectUsernameOrPassword):
		return ErrIncorrectUsernameOrPassword
	case IsRejected(err):
		return ErrInvalidToken
	default:
		return err
	}
}

// CheckText rejects strings that are not valid UTF-8 or contain NUL bytes.
func CheckText(values ...string) error {
	for _, v := range values {
		if !utf8.ValidString(v) || strings.IndexByte(v, 0) >= 0 {
			return ErrInvalidText
		}
	}
	return nil
}
