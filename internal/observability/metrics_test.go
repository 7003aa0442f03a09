package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("live_connect", 500)
	w.Observe("live_connect", 700)
	w.Observe("live_connect", 900)
	w.ObserveIndicator("gateway_error_timeout")
	w.ObserveIndicator("gateway_error_timeout")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 || s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("stage stats = %+v", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	for _, v := range []float64{100, 200, 300} {
		w.Observe("one_shot_text", v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 250 {
		t.Fatalf("stats = %+v, want 2 samples avg 250", s)
	}
}

func TestMetricsObserveOneShotAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, reg, "sahayak_test")
	m.ObserveOneShot("text", 1200*time.Millisecond, "")
	m.ObserveOneShot("audio", 30*time.Second, "timeout")

	snap := m.SnapshotLatency()
	if len(snap.Stages) != 2 {
		t.Fatalf("stages = %+v", snap.Stages)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `sahayak_test_gateway_errors_total{kind="timeout",op="audio"} 1`) {
		t.Fatalf("metrics output missing gateway error counter:\n%s", body)
	}

	m.ResetLatency()
	if len(m.SnapshotLatency().Stages) != 0 {
		t.Fatalf("ResetLatency() kept stages")
	}
}
