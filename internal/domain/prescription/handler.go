package prescription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscan/triage/internal/platform/apperr"
	"github.com/medscan/triage/internal/platform/auth"
	"github.com/medscan/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/reports/:id/prescription", h.Attach)

	read := api.Group("", auth.RequireRole(auth.RoleRadiologist, auth.RoleDoctor, auth.RolePatient))
	read.GET("/reports/:id/prescription", h.GetByReport)

	own := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	own.GET("/prescriptions", h.List)
}

func (h *Handler) Attach(c echo.Context) error {
	reportID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in AttachInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.ReportID = reportID
	in.DoctorID = auth.UserIDFromContext(c.Request().Context())

	res, err := h.svc.Attach(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetByReport(c echo.Context) error {
	reportID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, _ := auth.IdentityFromContext(ctx)
	p, err := h.svc.GetByReport(ctx, caller, reportID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	caller, _ := auth.IdentityFromContext(ctx)
	pg := pagination.FromContext(c)

	var (
		items []*Prescription
		total int
		err   error
	)
	if caller.Role == auth.RolePatient {
		items, total, err = h.svc.ListByPatient(ctx, caller.UserID, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListByDoctor(ctx, caller.UserID, pg.Limit, pg.Offset)
	}
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}
