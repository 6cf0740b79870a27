package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(AuthFailure)
	m.Inc(AuthFailure)
	m.Inc(RoutingMiss)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	if !strings.Contains(text, `ojm_drone_remote_events_total{event="unauthorized"} 2`) {
		t.Errorf("missing unauthorized counter:\n%s", text)
	}
	if !strings.Contains(text, `ojm_drone_remote_events_total{event="routing_miss"} 1`) {
		t.Errorf("missing routing_miss counter:\n%s", text)
	}
	if !strings.Contains(text, "# TYPE ojm_drone_remote_events_total counter") {
		t.Errorf("missing TYPE header:\n%s", text)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
