package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestObserveOperation_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveOperation("book", "ok", 5*time.Millisecond)
	c.ObserveOperation("book", "ok", 7*time.Millisecond)
	c.ObserveOperation("book", "slot_unavailable", time.Millisecond)

	mf := findFamily(t, reg, "counselling_session_operations_total")
	counts := map[string]float64{}
	for _, m := range mf.GetMetric() {
		var outcome string
		for _, label := range m.GetLabel() {
			if label.GetName() == "outcome" {
				outcome = label.GetValue()
			}
		}
		counts[outcome] = m.GetCounter().GetValue()
	}
	if counts["ok"] != 2 || counts["slot_unavailable"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	durations := findFamily(t, reg, "counselling_session_operation_duration_seconds")
	if got := durations.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Fatalf("duration sample count = %d, want 3", got)
	}
}

func TestObserveAvailableSlots_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveAvailableSlots(20)
	c.ObserveAvailableSlots(19)

	mf := findFamily(t, reg, "counselling_available_slots")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 || h.GetSampleSum() != 39 {
		t.Fatalf("unexpected histogram: count=%d sum=%v", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPRequest(http.MethodPost, http.StatusConflict)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `counselling_http_requests_total{method="POST",status="409"} 1`) {
		t.Fatalf("expected request counter in output, got:\n%s", body)
	}
}
