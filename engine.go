package sessionauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/sessionauth/logging"
	"github.com/MrEthical07/sessionauth/password"
	"github.com/MrEthical07/sessionauth/registry"
)

const (
	maxEmailBytes = 254

	// maxTokenAttempts bounds regeneration after a token collision.
	maxTokenAttempts = 3

	// cleanupTimeout bounds best-effort cleanup that outlives the caller's context.
	cleanupTimeout = 5 * time.Second
)

// Engine is the auth authority. All methods are safe for concurrent use.
//
// An Engine owns nothing when built through Builder; one returned by Open
// owns both store connections and releases them on Close.
type Engine struct {
	config   Config
	users    CredentialStore
	sessions SessionStore
	registry *registry.Registry
	hasher   *password.Hasher
	audit    *auditDispatcher
	metrics  *Metrics
	log      logging.Logger

	tokenBytes int
	expiry     atomic.Int64

	closers   []func() error
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Close stops the audit dispatcher and closes every resource the Engine
// opened. It is idempotent. Later calls on the Engine fail with ErrEngineClosed.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.audit.Close()

		var errs []error
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		e.closeErr = errors.Join(errs...)
		e.log.Info(context.Background(), "engine closed")
	})
	return e.closeErr
}

// AuditDropped returns the number of audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// RegistryTimeouts returns how many registry acquisitions ran out of time.
func (e *Engine) RegistryTimeouts() uint64 {
	if e == nil || e.registry == nil {
		return 0
	}
	return e.registry.Timeouts()
}

// SetTokenExpireTime sets the lifetime of tokens issued from now on. Zero or a
// negative duration disables expiry. Tokens already issued keep their expiry.
func (e *Engine) SetTokenExpireTime(d time.Duration) {
	if e == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	prev := time.Duration(e.expiry.Swap(int64(d)))

	ctx := context.Background()
	e.log.Info(ctx, "token expiry changed", "from", prev, "to", d)
	e.emitAudit(ctx, auditEventTokenExpiryChanged, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"from": prev.String(),
			"to":   d.String(),
		}
	})
}

// TokenExpireTime returns the lifetime applied to new tokens. Zero means never.
func (e *Engine) TokenExpireTime() time.Duration {
	if e == nil {
		return 0
	}
	return time.Duration(e.expiry.Load())
}

// Health pings both stores.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e.ready() != nil {
		return HealthStatus{}
	}

	var h HealthStatus
	start := time.Now()
	err := e.users.Ping(ctx)
	h.DurableLatency = time.Since(start)
	h.DurableAvailable = err == nil

	latency, err := e.sessions.Ping(ctx)
	h.SessionLatency = latency
	h.SessionAvailable = err == nil
	return h
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.sessions == nil || e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) durableError(ctx context.Context, op string, err error) error {
	e.metricInc(MetricStoreError)
	e.log.Error(ctx, "credential store failure", "op", op, "err", err)
	return &StoreError{Kind: StoreDurable, Op: op, cause: err}
}

func (e *Engine) sessionError(ctx context.Context, op string, err error) error {
	e.metricInc(MetricStoreError)
	e.log.Error(ctx, "session store failure", "op", op, "err", err)
	return &StoreError{Kind: StoreSession, Op: op, cause: err}
}

func (e *Engine) registryError(ctx context.Context, op string, err error) error {
	e.metricInc(MetricRegistryUnavailable)
	e.log.Warn(ctx, "token registry unavailable", "op", op, "err", err)
	return ErrRegistryUnavailable
}

func userKey(userID string) string { return "u:" + userID }

func tokenKey(tokenHash string) string { return "t:" + tokenHash }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateEmail accepts anything shaped like local@domain without whitespace.
// Deliverability is not checked.
func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailBytes {
		return ErrInvalidEmail
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return ErrInvalidEmail
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ErrInvalidEmail
	}
	return nil
}

// detached returns a context that survives the caller's cancellation for
// cleanup that must run anyway.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}
