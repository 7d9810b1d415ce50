package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// DefaultMinPasswordBytes applies when Config.MinPasswordBytes is zero.
	DefaultMinPasswordBytes = 8
	// DefaultMaxPasswordBytes applies when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

// ErrPolicy is returned when a plaintext password falls outside the length bounds.
var ErrPolicy = errors.New("password policy violation")

// ErrMalformedHash is returned for stored hashes that cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// Config holds Argon2id cost parameters and plaintext length bounds.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinPasswordBytes int
	MaxPasswordBytes int
}

// Argon2 hashes and verifies argon2id PHC strings.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and fills in the length-bound defaults.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinPasswordBytes <= 0 {
		cfg.MinPasswordBytes = DefaultMinPasswordBytes
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// CheckPolicy reports whether password may be hashed.
// Bytes are taken exactly as provided, without Unicode normalization.
func (a *Argon2) CheckPolicy(password string) error {
	if len(password) < a.config.MinPasswordBytes {
		return fmt.Errorf("%w: must be at least %d bytes", ErrPolicy, a.config.MinPasswordBytes)
	}
	if len(password) > a.config.MaxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrPolicy, a.config.MaxPasswordBytes)
	}
	return nil
}

func (a *Argon2) Hash(password string) (string, error) {
	if err := a.CheckPolicy(password); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
		hash:        key,
	}.String(), nil
}

// Verify compares password against encodedHash in constant time.
// Overlong input is rejected before any key derivation runs.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPolicy
	}
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade is true when encodedHash was produced with weaker costs or a
// different key length than the current config.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	switch {
	case a.config.Memory > parsed.memory,
		a.config.Time > parsed.time,
		a.config.Parallelism > parsed.parallelism,
		a.config.KeyLength != uint32(len(parsed.hash)):
		return true, nil
	}
	return false, nil
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func (p phc) String() string {
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.memory,
		p.time,
		p.parallelism,
		base64.StdEncoding.EncodeToString(p.salt),
		base64.StdEncoding.EncodeToString(p.hash),
	)
}

func isArgon2Hash(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$"+algorithmID+"$")
}

func parsePHC(encodedHash string) (*phc, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: not an argon2id PHC string", ErrMalformedHash)
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, fmt.Errorf("%w: invalid version", ErrMalformedHash)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrMalformedHash, version)
	}

	out := &phc{}
	if err := out.parseParams(parts[3]); err != nil {
		return nil, err
	}

	if out.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: invalid salt", ErrMalformedHash)
	}
	if out.hash, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(out.hash) == 0 {
		return nil, fmt.Errorf("%w: invalid key", ErrMalformedHash)
	}

	return out, nil
}

func (p *phc) parseParams(part string) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return fmt.Errorf("%w: invalid parameter format", ErrMalformedHash)
	}

	var seen int
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: invalid parameter entry", ErrMalformedHash)
		}

		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: invalid memory parameter", ErrMalformedHash)
			}
			p.memory = uint32(v)
			seen |= 1
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: invalid time parameter", ErrMalformedHash)
			}
			p.time = uint32(v)
			seen |= 2
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: invalid parallelism parameter", ErrMalformedHash)
			}
			p.parallelism = uint8(v)
			seen |= 4
		default:
			return fmt.Errorf("%w: unsupported parameter %q", ErrMalformedHash, name)
		}
	}

	if seen != 7 {
		return fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	if cfg.MaxPasswordBytes < cfg.MinPasswordBytes {
		return errors.New("password max length must be >= min length")
	}
	return nil
}
