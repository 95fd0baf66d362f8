package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

func TestMetricsHooks(t *testing.T) {
	m := New()

	m.EventReceived("text")
	m.EventReceived("text")
	m.EventHandled("text", "replied")
	m.CompletionObserved("reply", "ok", 150*time.Millisecond)
	m.CompletionObserved("reply", "500", time.Second)
	m.SegmentsSent("telegram", 3)
	m.SegmentsSent("telegram", 0)
	m.FailureReported(true)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"received", testutil.ToFloat64(m.EventsReceivedTotal.WithLabelValues("text")), 2},
		{"handled", testutil.ToFloat64(m.EventsHandledTotal.WithLabelValues("text", "replied")), 1},
		{"completions ok", testutil.ToFloat64(m.CompletionsTotal.WithLabelValues("reply", "ok")), 1},
		{"completions 500", testutil.ToFloat64(m.CompletionsTotal.WithLabelValues("reply", "500")), 1},
		{"segments", testutil.ToFloat64(m.SegmentsSentTotal.WithLabelValues("telegram")), 3},
		{"failures", testutil.ToFloat64(m.FailuresReportedTotal.WithLabelValues("true")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestNewUsesIndependentRegistries(t *testing.T) {
	// promauto.With must not touch the global registry; two instances coexist.
	a, b := New(), New()
	a.EventReceived("text")
	if got := testutil.ToFloat64(b.EventsReceivedTotal.WithLabelValues("text")); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}

func TestServerEndpoints(t *testing.T) {
	m := New()
	m.EventReceived("reaction")

	health := map[string]channels.HealthStatus{
		"telegram": {Connected: true, ErrorCount: 1},
		"discord":  {Connected: false},
	}
	srv := httptest.NewServer(NewServer("127.0.0.1:0", m, func() map[string]channels.HealthStatus { return health }, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `relaybot_events_received_total{kind="reaction"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var report HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || report.Status != "degraded" {
		t.Errorf("status = %d/%q, want 200/degraded", resp.StatusCode, report.Status)
	}
	if !report.Channels["telegram"].Connected || report.Channels["telegram"].ErrorCount != 1 {
		t.Errorf("telegram report = %+v", report.Channels["telegram"])
	}

	health = map[string]channels.HealthStatus{"discord": {}}
	resp, _ = http.Get(srv.URL + "/health")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with no connected channels", resp.StatusCode)
	}
}

func TestServerReportWithoutChannels(t *testing.T) {
	s := NewServer(":0", New(), nil, nil)
	if r := s.Report(); r.Status != "healthy" || r.Channels != nil {
		t.Errorf("report = %+v", r)
	}
}
