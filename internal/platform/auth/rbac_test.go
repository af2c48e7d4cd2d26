package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func roleContext(role Role) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if role != "" {
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: uuid.New(), Role: role}))
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allowed(t *testing.T) {
	c := roleContext(RoleDoctor)
	if err := RequireRole(RoleRadiologist, RoleDoctor)(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := roleContext(RolePatient)
	err := RequireRole(RoleRadiologist, RoleDoctor)(okHandler)(c)
	assertStatus(t, err, http.StatusForbidden)
	if msg := err.(*echo.HTTPError).Message; msg != "required role: radiologist or doctor" {
		t.Errorf("message = %v", msg)
	}
}

func TestRequireRole_Anonymous(t *testing.T) {
	c := roleContext("")
	err := RequireRole(RoleDoctor)(okHandler)(c)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"radiologist", "doctor", "patient"} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) error: %v", s, err)
		}
	}
	for _, s := range []string{"", "admin", "Doctor"} {
		if _, err := ParseRole(s); err == nil {
			t.Errorf("ParseRole(%q) expected error", s)
		}
	}
}
