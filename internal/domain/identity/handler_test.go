package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscan/triage/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func withIdentity(req *http.Request, uid uuid.UUID, role auth.Role) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: uid, Role: role}))
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if httpErr.Code != want {
		t.Errorf("expected %d, got %d", want, httpErr.Code)
	}
}

// -- Patient Handler Tests --

func TestHandler_RegisterPatient(t *testing.T) {
	h, e := newTestHandler()
	radiologist := uuid.New()
	body := `{"full_name":"John Doe","age":60,"gender":"male","contact_number":"555-0101","email":"john@example.com"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), radiologist, auth.RoleRadiologist)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.RegisterPatient(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.RegisteredBy != radiologist {
		t.Errorf("registered_by = %s", p.RegisteredBy)
	}
}

func TestHandler_RegisterPatient_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	body := `{"full_name":"John Doe","age":60,"gender":"robot"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), uuid.New(), auth.RoleRadiologist)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	expectStatus(t, h.RegisterPatient(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler()
	p := validPatient()
	h.svc.RegisterPatient(context.Background(), uuid.New(), p)

	tests := []struct {
		name   string
		caller uuid.UUID
		role   auth.Role
		id     string
		want   int
	}{
		{"doctor", uuid.New(), auth.RoleDoctor, p.ID.String(), http.StatusOK},
		{"patient self", p.ID, auth.RolePatient, p.ID.String(), http.StatusOK},
		{"other patient", uuid.New(), auth.RolePatient, p.ID.String(), http.StatusForbidden},
		{"unknown", uuid.New(), auth.RoleRadiologist, uuid.New().String(), http.StatusNotFound},
		{"invalid id", uuid.New(), auth.RoleRadiologist, "not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), tt.caller, tt.role)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			err := h.GetPatient(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, e := newTestHandler()
	radiologist := uuid.New()
	h.svc.RegisterPatient(context.Background(), radiologist, validPatient())
	h.svc.RegisterPatient(context.Background(), uuid.New(), validPatient())

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), radiologist, auth.RoleRadiologist)
	rec := httptest.NewRecorder()
	if err := h.ListPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("total = %d, want 1", body.Total)
	}
}

// -- Doctor Handler Tests --

func TestHandler_CreateDoctor_UsesCallerID(t *testing.T) {
	h, e := newTestHandler()
	caller := uuid.New()
	body := `{"id":"` + uuid.New().String() + `","display_name":"Dr. Who","specialization":"Radiology","license_number":"L-9"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), caller, auth.RoleDoctor)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.CreateDoctor(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d Doctor
	json.Unmarshal(rec.Body.Bytes(), &d)
	if d.ID != caller {
		t.Errorf("doctor id = %s, want caller %s", d.ID, caller)
	}
}

func TestHandler_GetDoctor(t *testing.T) {
	h, e := newTestHandler()
	d := validDoctor()
	h.svc.CreateDoctor(context.Background(), d)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())
	if err := h.GetDoctor(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectStatus(t, h.GetDoctor(c), http.StatusNotFound)
}

func TestHandler_ListDoctors(t *testing.T) {
	h, e := newTestHandler()
	h.svc.CreateDoctor(context.Background(), validDoctor())
	h.svc.CreateDoctor(context.Background(), validDoctor())

	rec := httptest.NewRecorder()
	if err := h.ListDoctors(e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=1", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data    []Doctor `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 1 || !body.HasMore {
		t.Errorf("unexpected body: %+v", body)
	}
}
