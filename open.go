package sessionauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/sessionauth/credential"
	"github.com/MrEthical07/sessionauth/logging"
	"github.com/redis/go-redis/v9"
)

// OpenOption customises the Builder used by Open.
type OpenOption func(*Builder)

// OpenWithLogger sets the Engine logger.
func OpenWithLogger(l logging.Logger) OpenOption {
	return func(b *Builder) { b.WithLogger(l) }
}

// OpenWithAuditSink sets the audit sink.
func OpenWithAuditSink(sink AuditSink) OpenOption {
	return func(b *Builder) { b.WithAuditSink(sink) }
}

// Open connects to both stores and returns an Engine that owns the
// connections. durableURL is a postgres:// or sqlite:// URL, sessionURL a
// redis:// or rediss:// URL. With cfg.Database.AutoMigrate the credential
// schema is brought up to date first.
//
// Failures to reach either store are *StoreError. Nothing is left open on error.
func Open(ctx context.Context, cfg Config, durableURL, sessionURL string, opts ...OpenOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	users, err := credential.Open(ctx, durableURL, credential.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, &StoreError{Kind: StoreDurable, Op: "open", cause: err}
	}

	if cfg.Database.AutoMigrate {
		if _, err := users.Migrate(ctx); err != nil {
			_ = users.Close()
			return nil, &StoreError{Kind: StoreDurable, Op: "migrate", cause: err}
		}
	}

	redisOpts, err := redis.ParseURL(sessionURL)
	if err != nil {
		_ = users.Close()
		return nil, &StoreError{Kind: StoreSession, Op: "open", cause: err}
	}
	rdb := redis.NewClient(redisOpts)

	pingCtx := ctx
	if cfg.Database.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		_ = users.Close()
		return nil, &StoreError{Kind: StoreSession, Op: "open", cause: err}
	}

	b := New().
		WithConfig(cfg).
		WithCredentialStore(users).
		WithRedis(rdb)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		return nil, errors.Join(err, rdb.Close(), users.Close())
	}
	engine.closers = append(engine.closers, users.Close, rdb.Close)

	engine.log.Info(ctx, "engine opened",
		"durable_dialect", users.Dialect().String(),
		"session_addr", redisOpts.Addr,
		"token_expiry", engine.TokenExpireTime(),
	)
	return engine, nil
}
