package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

// ErrUnavailable is returned when a hold cannot be obtained in time. It is retryable.
var ErrUnavailable = errors.New("token registry unavailable")

const (
	defaultStripes        = 64
	defaultAcquireTimeout = 2 * time.Second

	// exclusiveWeight bounds the number of concurrent shared holders per stripe.
	exclusiveWeight int64 = 1 << 16
)

// Config controls stripe count and the bounded wait.
type Config struct {
	// Stripes is rounded up to a power of two. Zero selects the default.
	Stripes int
	// AcquireTimeout caps every acquisition. Zero selects the default.
	AcquireTimeout time.Duration
}

// Release gives a hold back. Calling it more than once is a no-op.
type Release func()

// Registry is safe for concurrent use.
type Registry struct {
	stripes  []*semaphore.Weighted
	mask     uint64
	timeout  time.Duration
	timeouts atomic.Uint64
}

// New builds a Registry from cfg.
func New(cfg Config) *Registry {
	n := cfg.Stripes
	if n <= 0 {
		n = defaultStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}

	r := &Registry{
		stripes: make([]*semaphore.Weighted, size),
		mask:    uint64(size - 1),
		timeout: timeout,
	}
	for i := range r.stripes {
		r.stripes[i] = semaphore.NewWeighted(exclusiveWeight)
	}
	return r
}

// Exclusive acquires sole access to key's stripe.
func (r *Registry) Exclusive(ctx context.Context, key string) (Release, error) {
	return r.acquire(ctx, key, exclusiveWeight)
}

// Shared acquires read access to key's stripe. Shared holders only exclude
// exclusive ones.
func (r *Registry) Shared(ctx context.Context, key string) (Release, error) {
	return r.acquire(ctx, key, 1)
}

// Timeouts reports how many acquisitions failed since construction.
func (r *Registry) Timeouts() uint64 {
	if r == nil {
		return 0
	}
	return r.timeouts.Load()
}

// Stripes reports the effective stripe count.
func (r *Registry) Stripes() int {
	return len(r.stripes)
}

func (r *Registry) stripe(key string) *semaphore.Weighted {
	return r.stripes[xxhash.Sum64String(key)&r.mask]
}

func (r *Registry) acquire(ctx context.Context, key string, weight int64) (Release, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sem := r.stripe(key)

	if !sem.TryAcquire(weight) {
		waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := sem.Acquire(waitCtx, weight)
		cancel()
		if err != nil {
			r.timeouts.Add(1)
			if cause := ctx.Err(); cause != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, cause)
			}
			return nil, ErrUnavailable
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(weight) })
	}, nil
}
