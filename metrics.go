package sessionauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricUserCreated counts accounts created.
	MetricUserCreated MetricID = iota
	// MetricUserCreateDuplicate counts creations rejected for a taken email.
	MetricUserCreateDuplicate
	// MetricLoginSuccess counts issued tokens.
	MetricLoginSuccess
	// MetricLoginFailure counts logins rejected for unknown user or wrong password.
	MetricLoginFailure
	// MetricLogout counts single-token logouts.
	MetricLogout
	// MetricLogoutAll counts caller-initiated logouts of every token.
	MetricLogoutAll
	// MetricVerifySuccess counts accepted tokens.
	MetricVerifySuccess
	// MetricVerifyRejected counts rejected tokens.
	MetricVerifyRejected
	// MetricUserUpdated counts successful account updates.
	MetricUserUpdated
	// MetricUserDeleted counts self-service deletions.
	MetricUserDeleted
	// MetricAdminUserDeleted counts accounts removed by admin filters.
	MetricAdminUserDeleted
	// MetricForcedLogout counts forced revocations of one account's tokens.
	MetricForcedLogout
	// MetricTokensRevoked counts tokens removed by forced logouts.
	MetricTokensRevoked
	// MetricRegistryUnavailable counts registry acquisitions that timed out.
	MetricRegistryUnavailable
	// MetricStoreError counts backing-store failures.
	MetricStoreError
	// MetricPasswordRehash counts hashes upgraded on login.
	MetricPasswordRehash
	// MetricSessionCleanupFailure counts best-effort revocations that failed.
	MetricSessionCleanupFailure
	// MetricPermissionDenied counts admin calls without the admin role.
	MetricPermissionDenied
	// MetricVerifyLatency is the only histogram.
	MetricVerifyLatency
	metricIDCount
)

// verifyLatencyBounds are the inclusive upper bounds, in milliseconds, of all
// but the last histogram bucket.
var verifyLatencyBounds = [...]int64{5, 10, 25, 50, 100, 250, 500}

const histBucketCount = len(verifyLatencyBounds) + 1

// counterSlot keeps each hot counter on its own cache line.
type counterSlot struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counterSlot
	verifyLatency [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a Metrics from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.enableLatency }

func (m *Metrics) Inc(id MetricID) { m.Add(id, 1) }

// Add adds n to counter id. Histogram ids are ignored.
func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= MetricVerifyLatency || n == 0 {
		return
	}
	m.counters[id].n.Add(n)
}

// Observe records d in the histogram id. Only MetricVerifyLatency is a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricVerifyLatency {
		return
	}
	m.verifyLatency[latencyBucket(d)].Add(1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricVerifyLatency {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter, and the histogram when latency is enabled.
// A disabled Metrics yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return snap
	}
	for id := range MetricVerifyLatency {
		snap.Counters[id] = m.counters[id].n.Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.verifyLatency[i].Load()
		}
		snap.Histograms[MetricVerifyLatency] = buckets
	}
	return snap
}

func latencyBucket(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range verifyLatencyBounds {
		if ms <= bound {
			return i
		}
	}
	return len(verifyLatencyBounds)
}
