package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// DefaultTokenBytes is the entropy of a session token before encoding.
const DefaultTokenBytes = 32

// MinTokenBytes is the smallest accepted token size.
const MinTokenBytes = 16

var errMalformedToken = errors.New("malformed token")

// NewToken returns size random bytes encoded as unpadded base64url.
func NewToken(size int) (string, error) {
	if size < MinTokenBytes {
		return "", errors.New("token size too small")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// EncodedTokenLen reports the text length of a token of size raw bytes.
func EncodedTokenLen(size int) int {
	return base64.RawURLEncoding.EncodedLen(size)
}

// CheckToken validates the shape of token without touching any store.
func CheckToken(token string, size int) error {
	if len(token) != EncodedTokenLen(size) {
		return errMalformedToken
	}
	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) != size {
		return errMalformedToken
	}
	return nil
}

// HashToken is the store-side identifier of token. Raw tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
