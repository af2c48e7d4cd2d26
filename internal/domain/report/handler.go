package report

import (
	"errors"
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
	read := api.Group("", auth.RequireRole(auth.RoleRadiologist, auth.RoleDoctor, auth.RolePatient))
	read.GET("/reports", h.List)
	read.GET("/reports/:id", h.Get)

	// Transitions – assigned doctor only, checked again in the service
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/reports/:id/complete", h.Complete)
	doctor.POST("/reports/:id/deliver", h.Deliver)
	doctor.POST("/reports/:id/send", h.Send)
}

// TransitionConflict is the 409 body for a rejected transition. Report is
// the stored state at the time of the rejection.
type TransitionConflict struct {
	Message string  `json:"message"`
	Report  *Report `json:"report,omitempty"`
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	caller, _ := auth.IdentityFromContext(ctx)
	pg := pagination.FromContext(c)

	var status *Status
	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		if st != StatusPending && st != StatusCompleted {
			return echo.NewHTTPError(http.StatusBadRequest, "status must be pending or completed")
		}
		status = &st
	}

	items, total, err := h.svc.ListFor(ctx, caller, status, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, _ := auth.IdentityFromContext(ctx)
	rep, err := h.svc.GetFor(ctx, caller, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, true, func(id, doctorID uuid.UUID, notes ReviewNotes) (*Report, error) {
		return h.svc.Complete(c.Request().Context(), id, doctorID, notes)
	})
}

func (h *Handler) Deliver(c echo.Context) error {
	return h.transition(c, false, func(id, doctorID uuid.UUID, _ ReviewNotes) (*Report, error) {
		return h.svc.DeliverToPatient(c.Request().Context(), id, doctorID)
	})
}

func (h *Handler) Send(c echo.Context) error {
	return h.transition(c, true, func(id, doctorID uuid.UUID, notes ReviewNotes) (*Report, error) {
		return h.svc.SendToPatient(c.Request().Context(), id, doctorID, notes)
	})
}

func (h *Handler) transition(c echo.Context, withNotes bool, fn func(id, doctorID uuid.UUID, notes ReviewNotes) (*Report, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var notes ReviewNotes
	if withNotes && c.Request().ContentLength != 0 {
		if err := c.Bind(&notes); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	rep, err := fn(id, auth.UserIDFromContext(c.Request().Context()), notes)
	if err != nil {
		return ConflictResponse(c, rep, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// ConflictResponse writes a 409 with the current report for transition
// errors and maps every other error through apperr.
func ConflictResponse(c echo.Context, current *Report, err error) error {
	if errors.Is(err, apperr.ErrInvalidTransition) {
		return c.JSON(http.StatusConflict, TransitionConflict{Message: err.Error(), Report: current})
	}
	return apperr.HTTP(err)
}
