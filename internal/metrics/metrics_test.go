package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}
}

func TestNilMetrics_recordersAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveAPIRequest("list_profiles", "ok", time.Millisecond)
	m.IncReconcileRun()
	m.AddReconcileChanges(1, 2, 3)
	m.IncRefreshTick("refreshed")
	m.SetExposedEntities(4)
	m.IncToggle("ok")
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.ObserveAPIRequest("list_profiles", "permission", 40*time.Millisecond)
	m.IncReconcileRun()
	m.ObserveReconcileDuration(300 * time.Millisecond)
	m.AddReconcileChanges(1, 2, 0)
	m.IncRefreshTick("empty")
	m.SetExposedEntities(3)
	m.IncToggle("failed")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		`controld_bridge_http_requests_total{method="GET",path="/readyz",status="200"} 1`,
		`controld_bridge_api_requests_total{class="permission",operation="list_profiles"} 1`,
		`controld_bridge_reconcile_runs_total 1`,
		`controld_bridge_reconcile_duration_seconds_count 1`,
		`controld_bridge_reconcile_changes_total{action="updated"} 2`,
		`controld_bridge_refresh_ticks_total{outcome="empty"} 1`,
		`controld_bridge_exposed_entities 3`,
		`controld_bridge_toggle_requests_total{result="failed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output; body=%s", want, body)
		}
	}
}
