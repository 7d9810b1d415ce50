package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the daemon settings. Values are layered: defaults, then the
// JSON file named by -config or AUTHD_CONFIG, then AUTHD_* variables, then
// flags given on the command line.
type Config struct {
	Addr            string
	DatabaseURL     string
	RedisURL        string
	TokenExpiry     time.Duration
	LogLevel        string
	Metrics         bool
	Audit           bool
	BootstrapAdmin  string
	ShutdownTimeout time.Duration
}

// LoadDefaults sets development defaults.
func (c *Config) LoadDefaults() {
	c.Addr = ":8080"
	c.DatabaseURL = "sqlite://authd.db"
	c.RedisURL = "redis://localhost:6379/0"
	c.TokenExpiry = 24 * time.Hour
	c.LogLevel = "info"
	c.Metrics = true
	c.Audit = false
	c.BootstrapAdmin = ""
	c.ShutdownTimeout = 10 * time.Second
}

// duration accepts "90m" style strings or integer nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("duration must be a string like \"1h\" or integer nanoseconds")
	}
	*d = duration(n)
	return nil
}

type jsonConfig struct {
	Addr            *string   `json:"addr"`
	DatabaseURL     *string   `json:"database_url"`
	RedisURL        *string   `json:"redis_url"`
	TokenExpiry     *duration `json:"token_expiry"`
	LogLevel        *string   `json:"log_level"`
	Metrics         *bool     `json:"metrics"`
	Audit           *bool     `json:"audit"`
	BootstrapAdmin  *string   `json:"bootstrap_admin"`
	ShutdownTimeout *duration `json:"shutdown_timeout"`
}

func (c *Config) applyJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var j jsonConfig
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.Addr, j.Addr)
	setString(&c.DatabaseURL, j.DatabaseURL)
	setString(&c.RedisURL, j.RedisURL)
	setString(&c.LogLevel, j.LogLevel)
	setString(&c.BootstrapAdmin, j.BootstrapAdmin)
	if j.TokenExpiry != nil {
		c.TokenExpiry = time.Duration(*j.TokenExpiry)
	}
	if j.ShutdownTimeout != nil {
		c.ShutdownTimeout = time.Duration(*j.ShutdownTimeout)
	}
	if j.Metrics != nil {
		c.Metrics = *j.Metrics
	}
	if j.Audit != nil {
		c.Audit = *j.Audit
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("AUTHD_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("AUTHD_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("AUTHD_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := getenv("AUTHD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("AUTHD_BOOTSTRAP_ADMIN"); v != "" {
		c.BootstrapAdmin = v
	}
	if v := getenv("AUTHD_TOKEN_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AUTHD_TOKEN_EXPIRY: %w", err)
		}
		c.TokenExpiry = d
	}
	if v := getenv("AUTHD_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AUTHD_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	if v := getenv("AUTHD_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTHD_METRICS: %w", err)
		}
		c.Metrics = b
	}
	if v := getenv("AUTHD_AUDIT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTHD_AUDIT: %w", err)
		}
		c.Audit = b
	}
	return nil
}

// LoadConfig builds a Config from args (without the program name) and the
// environment.
func LoadConfig(args []string, getenv func(string) string) (Config, error) {
	var c Config
	c.LoadDefaults()

	var f Config
	var configPath string
	fs := flag.NewFlagSet("authd", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "path to a JSON config file")
	fs.StringVar(&f.Addr, "addr", c.Addr, "HTTP listen address")
	fs.StringVar(&f.DatabaseURL, "db", c.DatabaseURL, "credential store URL (postgres:// or sqlite://)")
	fs.StringVar(&f.RedisURL, "redis", c.RedisURL, "session store URL (redis:// or rediss://)")
	fs.DurationVar(&f.TokenExpiry, "token-expiry", c.TokenExpiry, "lifetime of new tokens, 0 for never")
	fs.StringVar(&f.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&f.Metrics, "metrics", c.Metrics, "serve /metrics")
	fs.BoolVar(&f.Audit, "audit", c.Audit, "write audit events to stdout")
	fs.StringVar(&f.BootstrapAdmin, "bootstrap-admin", c.BootstrapAdmin, "create this admin account at start; password from AUTHD_BOOTSTRAP_PASSWORD")
	fs.DurationVar(&f.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "grace period for in-flight requests")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if configPath == "" {
		configPath = getenv("AUTHD_CONFIG")
	}
	if configPath != "" {
		if err := c.applyJSON(configPath); err != nil {
			return Config{}, err
		}
	}
	if err := c.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			c.Addr = f.Addr
		case "db":
			c.DatabaseURL = f.DatabaseURL
		case "redis":
			c.RedisURL = f.RedisURL
		case "token-expiry":
			c.TokenExpiry = f.TokenExpiry
		case "log-level":
			c.LogLevel = f.LogLevel
		case "metrics":
			c.Metrics = f.Metrics
		case "audit":
			c.Audit = f.Audit
		case "bootstrap-admin":
			c.BootstrapAdmin = f.BootstrapAdmin
		case "shutdown-timeout":
			c.ShutdownTimeout = f.ShutdownTimeout
		}
	})

	if c.TokenExpiry < 0 {
		return Config{}, errors.New("token expiry must be >= 0")
	}
	return c, nil
}
