package sessionauth

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/sessionauth/logging"
	"github.com/MrEthical07/sessionauth/password"
	"github.com/MrEthical07/sessionauth/registry"
	"github.com/MrEthical07/sessionauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine from caller-owned stores. The Engine it returns
// never closes those stores; use Open for an Engine that owns its connections.
//
// A Builder is single-use.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	sessions SessionStore
	users    CredentialStore

	logger    logging.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing the session store. It is ignored when
// WithSessionStore is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionStore sets a ready session store.
func (b *Builder) WithSessionStore(s SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithCredentialStore sets the credential store. It is required.
func (b *Builder) WithCredentialStore(s CredentialStore) *Builder {
	b.users = s
	return b
}

// WithLogger sets the logger. The default discards everything.
func (b *Builder) WithLogger(l logging.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go when Audit is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled turns the in-process counters on or off.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms records verification latency. It has no effect
// while metrics are disabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("credential store required")
	}

	// -------- SESSION STORE --------
	sessions := b.sessions
	if sessions == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or session store required")
		}
		sessions = session.NewStore(b.redis, cfg.Session.KeyPrefix)
	}

	// -------- PASSWORD HASHER --------
	hasher, err := password.NewHasher(cfg.Password.hasherConfig())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	log := b.logger
	if log == nil {
		log = logging.Nop()
	}

	engine := &Engine{
		config:   cfg,
		users:    b.users,
		sessions: sessions,
		registry: registry.New(registry.Config{
			Stripes:        cfg.Registry.Stripes,
			AcquireTimeout: cfg.Registry.AcquireTimeout,
		}),
		hasher:     hasher,
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
		log:        log.With("component", "sessionauth"),
		tokenBytes: cfg.Token.Bytes,
	}
	engine.expiry.Store(int64(cfg.Session.TokenExpiry))

	b.built = true

	return engine, nil
}
