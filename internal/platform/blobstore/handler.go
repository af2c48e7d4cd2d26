package blobstore

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medscan/triage/internal/platform/auth"
)

// Handler serves stored images to authenticated users.
type Handler struct {
	store BlobStore
}

func NewHandler(store BlobStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/images/*", h.Download)
}

// Download streams the blob named by the wildcard. Patients may only read
// keys whose owner segment is their own id.
func (h *Handler) Download(c echo.Context) error {
	key := c.Param("*")
	if err := ValidateKey(key); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image key")
	}

	id, _ := auth.IdentityFromContext(c.Request().Context())
	if id.Role == auth.RolePatient {
		parts := strings.SplitN(key, "/", 3)
		if len(parts) < 3 || parts[1] != id.UserID.String() {
			return echo.NewHTTPError(http.StatusForbidden, "image belongs to another patient")
		}
	}

	rc, obj, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "image not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	defer rc.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set("ETag", `"`+obj.SHA256+`"`)
	return c.Stream(http.StatusOK, contentType, rc)
}
