package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/sessionauth"
)

type fakeSource struct {
	snapshot sessionauth.MetricsSnapshot
	dropped  uint64
	expiry   time.Duration
}

func (f fakeSource) MetricsSnapshot() sessionauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                         { return f.dropped }
func (f fakeSource) TokenExpireTime() time.Duration               { return f.expiry }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: sessionauth.MetricsSnapshot{
			Counters:   map[sessionauth.MetricID]uint64{},
			Histograms: map[sessionauth.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: sessionauth.MetricsSnapshot{
			Counters: map[sessionauth.MetricID]uint64{
				sessionauth.MetricLoginSuccess: 7,
			},
			Histograms: map[sessionauth.MetricID][]uint64{
				sessionauth.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
		expiry:  90 * time.Minute,
	})

	out := exp.Render()
	if !strings.Contains(out, "sessionauth_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "sessionauth_verify_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "sessionauth_verify_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "sessionauth_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE sessionauth_token_expiry_seconds gauge\nsessionauth_token_expiry_seconds 5400\n") {
		t.Fatalf("expected token expiry gauge in output, got:\n%s", out)
	}
}

func TestRenderEscapesHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("unexpected escape result %q", got)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: sessionauth.MetricsSnapshot{
			Counters:   map[sessionauth.MetricID]uint64{sessionauth.MetricLoginSuccess: 1},
			Histograms: map[sessionauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: sessionauth.MetricsSnapshot{
			Counters: map[sessionauth.MetricID]uint64{
				sessionauth.MetricLoginSuccess:   1000,
				sessionauth.MetricLoginFailure:   40,
				sessionauth.MetricVerifySuccess:  80000,
				sessionauth.MetricVerifyRejected: 120,
				sessionauth.MetricForcedLogout:   3,
				sessionauth.MetricTokensRevoked:  9,
			},
			Histograms: map[sessionauth.MetricID][]uint64{
				sessionauth.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
