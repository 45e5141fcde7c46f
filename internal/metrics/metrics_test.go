package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecord(t *testing.T) {
	m := New()
	m.VersionCreated("EDIT")
	m.VersionCreated("EDIT")
	m.VersionCreated("RESTORE")
	m.CompareServed(true)
	m.CompareServed(false)
	m.CompareServed(false)
	m.HandleOpened()
	m.HandleOpened()
	m.HandleClosed()
	m.CommitFailed()

	if got := testutil.ToFloat64(m.versionsCreated.WithLabelValues("EDIT")); got != 2 {
		t.Fatalf("expected 2 EDIT versions, got %v", got)
	}
	if got := testutil.ToFloat64(m.compares.WithLabelValues("miss")); got != 2 {
		t.Fatalf("expected 2 cache misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.openHandles); got != 1 {
		t.Fatalf("expected 1 open handle, got %v", got)
	}
	if got := testutil.ToFloat64(m.commitFailures); got != 1 {
		t.Fatalf("expected 1 commit failure, got %v", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/versions", http.StatusOK, 12*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `folio_http_requests_total{method="GET",route="/api/versions",status="200"} 1`) {
		t.Fatalf("request counter missing from output:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.VersionCreated("EDIT")
	m.CompareServed(true)
	m.HandleOpened()
	m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from a nil registry, got %d", rr.Code)
	}
}
