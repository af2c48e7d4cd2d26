package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_CountsByRoute(t *testing.T) {
	m := New(Config{Environment: "test"})
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/reports/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/missing/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	})

	for _, path := range []string{"/api/v1/reports/a", "/api/v1/reports/b", "/missing/x"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/reports/:id", "200")); got != 2 {
		t.Errorf("report requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/missing/:id", "404")); got != 1 {
		t.Errorf("404 requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeRequests); got != 0 {
		t.Errorf("active requests = %v, want 0", got)
	}
}

func TestObserveAnalysis(t *testing.T) {
	m := New(Config{})
	m.ObserveAnalysis(OutcomeOK, 300*time.Millisecond)
	m.ObserveAnalysis(OutcomeDecodeError, time.Millisecond)
	m.ObserveNarrative(NarrativeDegraded)

	if got := testutil.ToFloat64(m.analyses.WithLabelValues(OutcomeOK)); got != 1 {
		t.Errorf("ok analyses = %v", got)
	}
	if got := testutil.ToFloat64(m.analyses.WithLabelValues(OutcomeDecodeError)); got != 1 {
		t.Errorf("decode errors = %v", got)
	}
	if got := testutil.CollectAndCount(m.analysisDuration); got != 1 {
		t.Errorf("duration series = %d", got)
	}
	if got := testutil.ToFloat64(m.narratives.WithLabelValues(NarrativeDegraded)); got != 1 {
		t.Errorf("degraded narratives = %v", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	m := New(Config{ServiceName: "triage-test", Environment: "test"})
	loaded := false
	m.RegisterModelState(func() bool { return loaded })
	m.ObserveAnalysis(OutcomeModelUnavailable, 0)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET(MetricsPath, m.Handler())

	loaded = true
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`triage_pipeline_analyses_total{env="test",outcome="model_unavailable",service="triage-test"} 1`,
		"triage_pipeline_model_loaded 1",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
	if strings.Contains(body, `route="/metrics"`) {
		t.Error("scrapes must not be counted")
	}
}
