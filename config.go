package sessionauth

import (
	"errors"
	"time"

	"github.com/MrEthical07/sessionauth/internal"
	"github.com/MrEthical07/sessionauth/password"
)

// Config holds every tunable of an Engine. Start from DefaultConfig.
type Config struct {
	Session  SessionConfig
	Token    TokenConfig
	Password PasswordConfig
	Registry RegistryConfig
	Database DatabaseConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session-store keys and the initial token expiry.
type SessionConfig struct {
	KeyPrefix string
	// TokenExpiry is the lifetime of newly issued tokens. Zero means tokens
	// never expire. It can be changed at runtime with Engine.SetTokenExpireTime.
	TokenExpiry time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls token generation.
type TokenConfig struct {
	// Bytes of entropy per token before encoding.
	Bytes int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id costs and plaintext length bounds.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int // bytes
	MaxLength      int // bytes
	UpgradeOnLogin bool
}

func (p PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Memory:           p.Memory,
		Time:             p.Time,
		Parallelism:      p.Parallelism,
		SaltLength:       p.SaltLength,
		KeyLength:        p.KeyLength,
		MinPasswordBytes: p.MinLength,
		MaxPasswordBytes: p.MaxLength,
	}
}

/*
====================================
REGISTRY CONFIG
====================================
*/

// RegistryConfig sizes the in-process token registry.
type RegistryConfig struct {
	Stripes        int
	AcquireTimeout time.Duration
}

/*
====================================
DATABASE CONFIG
====================================
*/

// DatabaseConfig tunes the credential store pool opened by Open.
type DatabaseConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	AutoMigrate     bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults: one-day tokens, argon2id at
// 64 MiB, 64 registry stripes with a two second bounded wait.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			KeyPrefix:   "sa",
			TokenExpiry: 24 * time.Hour,
		},
		Token: TokenConfig{
			Bytes: internal.DefaultTokenBytes,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      password.DefaultMinPasswordBytes,
			MaxLength:      password.DefaultMaxPasswordBytes,
			UpgradeOnLogin: true,
		},
		Registry: RegistryConfig{
			Stripes:        64,
			AcquireTimeout: 2 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			AutoMigrate:     true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.KeyPrefix == "" {
		return errors.New("Session KeyPrefix must not be empty")
	}
	if c.Session.TokenExpiry < 0 {
		return errors.New("Session TokenExpiry must be >= 0")
	}
	if c.Session.TokenExpiry > 0 && c.Session.TokenExpiry < time.Millisecond {
		return errors.New("Session TokenExpiry must be >= 1ms when set")
	}

	// Token
	if c.Token.Bytes < internal.MinTokenBytes {
		return errors.New("Token Bytes must be >= 16")
	}
	if c.Token.Bytes > 128 {
		return errors.New("Token Bytes must be <= 128")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Registry
	if c.Registry.Stripes < 1 {
		return errors.New("Registry Stripes must be >= 1")
	}
	if c.Registry.AcquireTimeout <= 0 {
		return errors.New("Registry AcquireTimeout must be > 0")
	}

	// Database
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return errors.New("Database connection limits must be >= 0")
	}
	if c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("Database MaxIdleConns must be <= MaxOpenConns")
	}
	if c.Database.ConnectTimeout < 0 {
		return errors.New("Database ConnectTimeout must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
