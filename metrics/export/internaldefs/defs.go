package internaldefs

import (
	"time"

	"github.com/MrEthical07/sessionauth"
)

// Source is what the exporters read. *sessionauth.Engine implements it.
type Source interface {
	MetricsSnapshot() sessionauth.MetricsSnapshot
	AuditDropped() uint64
	TokenExpireTime() time.Duration
}

var _ Source = (*sessionauth.Engine)(nil)

// Kind is the exposition type of an engine-level value.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
)

// EngineDef is a value read straight from the engine rather than from the
// counter snapshot.
type EngineDef struct {
	Name string
	Help string
	Kind Kind
	Read func(Source) float64
}

// EngineDefs lists the engine-level values in export order.
var EngineDefs = []EngineDef{
	{
		Name: "sessionauth_audit_dropped_total",
		Help: "Dropped audit events due to dispatcher backpressure.",
		Kind: KindCounter,
		Read: func(s Source) float64 { return float64(s.AuditDropped()) },
	},
	{
		Name: "sessionauth_token_expiry_seconds",
		Help: "Lifetime applied to newly issued tokens. Zero means tokens never expire.",
		Kind: KindGauge,
		Read: func(s Source) float64 { return s.TokenExpireTime().Seconds() },
	},
}

// CounterDef names one exported counter.
type CounterDef struct {
	ID   sessionauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   sessionauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: sessionauth.MetricUserCreated, Name: "sessionauth_user_created_total", Help: "Accounts created."},
	{ID: sessionauth.MetricUserCreateDuplicate, Name: "sessionauth_user_create_duplicate_total", Help: "Account creations rejected for a taken email."},
	{ID: sessionauth.MetricLoginSuccess, Name: "sessionauth_login_success_total", Help: "Tokens issued by login."},
	{ID: sessionauth.MetricLoginFailure, Name: "sessionauth_login_failure_total", Help: "Logins rejected for unknown user or wrong password."},
	{ID: sessionauth.MetricLogout, Name: "sessionauth_logout_total", Help: "Single-token logouts."},
	{ID: sessionauth.MetricLogoutAll, Name: "sessionauth_logout_all_total", Help: "Caller-initiated logouts of every token."},
	{ID: sessionauth.MetricVerifySuccess, Name: "sessionauth_verify_success_total", Help: "Tokens accepted by verification."},
	{ID: sessionauth.MetricVerifyRejected, Name: "sessionauth_verify_rejected_total", Help: "Tokens rejected by verification."},
	{ID: sessionauth.MetricUserUpdated, Name: "sessionauth_user_updated_total", Help: "Successful account updates."},
	{ID: sessionauth.MetricUserDeleted, Name: "sessionauth_user_deleted_total", Help: "Self-service account deletions."},
	{ID: sessionauth.MetricAdminUserDeleted, Name: "sessionauth_admin_user_deleted_total", Help: "Accounts removed by admin filters."},
	{ID: sessionauth.MetricForcedLogout, Name: "sessionauth_forced_logout_total", Help: "Forced revocations of one account's tokens."},
	{ID: sessionauth.MetricTokensRevoked, Name: "sessionauth_tokens_revoked_total", Help: "Tokens removed by forced logouts."},
	{ID: sessionauth.MetricRegistryUnavailable, Name: "sessionauth_registry_unavailable_total", Help: "Token registry acquisitions that timed out."},
	{ID: sessionauth.MetricStoreError, Name: "sessionauth_store_error_total", Help: "Backing-store failures."},
	{ID: sessionauth.MetricPasswordRehash, Name: "sessionauth_password_rehash_total", Help: "Password hashes upgraded on login."},
	{ID: sessionauth.MetricSessionCleanupFailure, Name: "sessionauth_session_cleanup_failure_total", Help: "Best-effort token cleanups that failed."},
	{ID: sessionauth.MetricPermissionDenied, Name: "sessionauth_permission_denied_total", Help: "Admin calls without the admin role."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: sessionauth.MetricVerifyLatency, Name: "sessionauth_verify_latency_seconds", Help: "Token verification latency."},
}

// HistogramBounds are the upper bounds of the eight buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
