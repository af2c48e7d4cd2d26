package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/domain/report"
	"github.com/medscan/triage/internal/platform/apperr"
	"github.com/medscan/triage/internal/platform/auth"
	"github.com/medscan/triage/internal/platform/blobstore"
	"github.com/medscan/triage/internal/platform/vision"
)

// ProgressEvent is pushed to the uploading radiologist while the image is
// written to storage.
const ProgressEvent = "intake.upload_progress"

// Publisher delivers events to a connected user.
type Publisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) error
}

type Handler struct {
	svc       *Service
	maxBytes  int64
	publisher Publisher
}

// NewHandler limits uploads to maxBytes. publisher may be nil.
func NewHandler(svc *Service, maxBytes int64, publisher Publisher) *Handler {
	return &Handler{svc: svc, maxBytes: maxBytes, publisher: publisher}
}

func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	mw = append([]echo.MiddlewareFunc{auth.RequireRole(auth.RoleRadiologist)}, mw...)
	g := api.Group("", mw...)
	g.POST("/intake", h.Submit)
	g.POST("/analyze", h.Analyze)
}

func (h *Handler) Submit(c echo.Context) error {
	patientID, err := uuid.Parse(c.FormValue("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	doctorID, err := uuid.Parse(c.FormValue("doctor_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	modality := report.Modality(strings.ToLower(strings.TrimSpace(c.FormValue("modality"))))
	if modality == "" {
		modality = report.ModalityXRay
	}

	data, name, contentType, err := h.readImage(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	rad := auth.UserIDFromContext(ctx)
	res, err := h.svc.Submit(ctx, SubmitInput{
		PatientID:     patientID,
		DoctorID:      doctorID,
		RadiologistID: rad,
		Modality:      modality,
		FileName:      name,
		ContentType:   contentType,
		Image:         data,
		Progress:      h.progress(ctx, rad),
	})
	if err != nil {
		return pipelineError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Analyze(c echo.Context) error {
	data, _, _, err := h.readImage(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Analyze(c.Request().Context(), data)
	if err != nil {
		return pipelineError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) readImage(c echo.Context) ([]byte, string, string, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest, "image is required")
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		return nil, "", "", echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("image exceeds %d bytes", h.maxBytes))
	}
	src, err := fh.Open()
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded image").SetInternal(err)
	}
	defer src.Close()

	r := io.Reader(src)
	if h.maxBytes > 0 {
		r = io.LimitReader(src, h.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded image").SetInternal(err)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return nil, "", "", echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("image exceeds %d bytes", h.maxBytes))
	}

	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = http.DetectContentType(data)
	}
	return data, fh.Filename, contentType, nil
}

// progress publishes upload progress in quarter steps.
func (h *Handler) progress(ctx context.Context, userID uuid.UUID) blobstore.ProgressFunc {
	if h.publisher == nil {
		return nil
	}
	last := -1
	return func(written, total int64) {
		if total <= 0 {
			return
		}
		pct := int(written * 100 / total)
		if step := pct / 25; step > last {
			last = step
			_ = h.publisher.PublishToUser(ctx, userID, ProgressEvent, map[string]interface{}{
				"written": written,
				"total":   total,
				"percent": pct,
			})
		}
	}
}

func pipelineError(err error) error {
	switch {
	case errors.Is(err, vision.ErrDecode):
		return echo.NewHTTPError(http.StatusBadRequest, "image could not be decoded; upload a different file").SetInternal(err)
	case errors.Is(err, vision.ErrModelUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "classifier unavailable; retry shortly").SetInternal(err)
	case errors.Is(err, findings.ErrNarrativeService):
		return echo.NewHTTPError(http.StatusBadGateway, "narrative service unavailable").SetInternal(err)
	}
	return apperr.HTTP(err)
}
