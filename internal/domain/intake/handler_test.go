package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/platform/auth"
	"github.com/medscan/triage/internal/platform/vision"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishToUser(_ context.Context, _ uuid.UUID, eventType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func multipartRequest(t *testing.T, fields map[string]string, image []byte, radiologist uuid.UUID) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if image != nil {
		part, err := w.CreateFormFile("image", "chest.png")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(image)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: radiologist, Role: auth.RoleRadiologist}))
}

func submitFields() map[string]string {
	return map[string]string{
		"patient_id": uuid.NewString(),
		"doctor_id":  uuid.NewString(),
		"modality":   "XRay",
	}
}

func TestHandler_Submit(t *testing.T) {
	f := newFixture(Config{})
	pub := &recordingPublisher{}
	h, e := NewHandler(f.svc, 1<<20, pub), echo.New()
	rad := uuid.New()

	rec := httptest.NewRecorder()
	if err := h.Submit(e.NewContext(multipartRequest(t, submitFields(), testImage(t), rad), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got struct {
		Report struct {
			ImageRef      string `json:"image_ref"`
			RadiologistID string `json:"radiologist_id"`
			Status        string `json:"status"`
		} `json:"report"`
		NarrativeDegraded bool `json:"narrative_degraded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Report.RadiologistID != rad.String() || got.Report.Status != "pending" || got.Report.ImageRef == "" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if len(pub.events) == 0 || pub.events[0] != ProgressEvent {
		t.Errorf("progress events = %v", pub.events)
	}
}

func TestHandler_SubmitErrors(t *testing.T) {
	modelDown := newFixture(Config{})
	modelDown.classifier.err = fmt.Errorf("%w: load failed", vision.ErrModelUnavailable)

	strict := newFixture(Config{NarrativeRequired: true})
	strict.narrator.err = fmt.Errorf("%w: timeout", findings.ErrNarrativeService)

	badPatient := submitFields()
	badPatient["patient_id"] = "nope"
	badModality := submitFields()
	badModality["modality"] = "pet"

	tests := []struct {
		name   string
		f      *fixture
		fields map[string]string
		image  []byte
		want   int
	}{
		{"missing image", newFixture(Config{}), submitFields(), nil, http.StatusBadRequest},
		{"bad patient id", newFixture(Config{}), badPatient, testImage(t), http.StatusBadRequest},
		{"bad modality", newFixture(Config{}), badModality, testImage(t), http.StatusBadRequest},
		{"undecodable", newFixture(Config{}), submitFields(), []byte("GIF89a-broken"), http.StatusBadRequest},
		{"too large", newFixture(Config{}), submitFields(), make([]byte, 2048), http.StatusRequestEntityTooLarge},
		{"model unavailable", modelDown, submitFields(), testImage(t), http.StatusServiceUnavailable},
		{"narrative required", strict, submitFields(), testImage(t), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := int64(1 << 20)
			if tt.name == "too large" {
				limit = 1024
			}
			h, e := NewHandler(tt.f.svc, limit, nil), echo.New()
			err := h.Submit(e.NewContext(multipartRequest(t, tt.fields, tt.image, uuid.New()), httptest.NewRecorder()))
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
			}
			if httpErr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, httpErr.Code)
			}
		})
	}
}

func TestHandler_Analyze(t *testing.T) {
	f := newFixture(Config{})
	h, e := NewHandler(f.svc, 1<<20, nil), echo.New()

	rec := httptest.NewRecorder()
	if err := h.Analyze(e.NewContext(multipartRequest(t, nil, testImage(t), uuid.New()), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Normal || len(got.Anomalies) == 0 || got.Narrative == nil {
		t.Errorf("analysis = %+v", got)
	}
	if f.store.Len() != 0 {
		t.Error("analyze must not store the image")
	}
}
