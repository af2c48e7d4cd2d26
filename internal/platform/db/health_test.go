package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runReady(t *testing.T, checks ...Check) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ReadyHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestReadyHandler_AllHealthy(t *testing.T) {
	rec, body := runReady(t,
		Check{Name: "database", Run: func(context.Context) error { return nil }},
		Check{Name: "classifier", Run: func(context.Context) error { return nil }},
	)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestReadyHandler_OneFailing(t *testing.T) {
	rec, body := runReady(t,
		Check{Name: "database", Run: func(context.Context) error { return nil }},
		Check{Name: "classifier", Run: func(context.Context) error { return errors.New("model not loaded") }},
	)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["classifier"] != "model not loaded" {
		t.Errorf("classifier check = %v", checks["classifier"])
	}
	if checks["database"] != "ok" {
		t.Errorf("database check = %v", checks["database"])
	}
}

func TestReadyHandler_NoChecks(t *testing.T) {
	rec, _ := runReady(t)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with no checks, got %d", rec.Code)
	}
}
