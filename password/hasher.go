package password

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher issues argon2id hashes and verifies both argon2id and legacy bcrypt
// hashes. A bcrypt hash always reports NeedsUpgrade so callers can migrate it
// on the next successful login.
type Hasher struct {
	argon *Argon2
	dummy string
}

// NewHasher builds a Hasher. It derives one throwaway hash up front so that
// Equalize costs the same as a real verification.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}

	seed := make([]byte, 24)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	filler := base64.RawURLEncoding.EncodeToString(seed)
	if len(filler) < a.config.MinPasswordBytes {
		filler += strings.Repeat("x", a.config.MinPasswordBytes-len(filler))
	}
	dummy, err := a.Hash(filler)
	if err != nil {
		return nil, err
	}

	return &Hasher{argon: a, dummy: dummy}, nil
}

func (h *Hasher) CheckPolicy(password string) error {
	return h.argon.CheckPolicy(password)
}

func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	if isBcryptHash(encodedHash) {
		if len(password) > h.argon.config.MaxPasswordBytes {
			return false, ErrPolicy
		}
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		switch err {
		case nil:
			return true, nil
		case bcrypt.ErrMismatchedHashAndPassword:
			return false, nil
		default:
			return false, ErrMalformedHash
		}
	}
	return h.argon.Verify(password, encodedHash)
}

func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	if isBcryptHash(encodedHash) {
		return true, nil
	}
	return h.argon.NeedsUpgrade(encodedHash)
}

// Equalize burns one verification's worth of work against a throwaway hash.
// It is used when no stored hash exists for the presented identity.
func (h *Hasher) Equalize(password string) {
	_, _ = h.argon.Verify(password, h.dummy)
}

// IsSupported reports whether encodedHash is a format this Hasher can verify.
func IsSupported(encodedHash string) bool {
	return isArgon2Hash(encodedHash) || isBcryptHash(encodedHash)
}

func isBcryptHash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
