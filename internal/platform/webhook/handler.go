package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes endpoint management over HTTP.
type Handler struct {
	mgr      *Manager
	userFrom func(context.Context) string
}

// NewHandler returns a Handler. userFrom, if set, records who registered
// each endpoint.
func NewHandler(mgr *Manager, userFrom func(context.Context) string) *Handler {
	return &Handler{mgr: mgr, userFrom: userFrom}
}

// RegisterRoutes mounts /webhooks on api behind mw.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	g := api.Group("/webhooks", mw...)
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/pause", h.setStatus(StatusPaused))
	g.POST("/:id/resume", h.setStatus(StatusActive))
	g.POST("/:id/test", h.Test)
	g.GET("/:id/deliveries", h.Deliveries)
}

type registerRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// Register answers with the endpoint including its secret; later reads
// omit it.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var user string
	if h.userFrom != nil {
		user = h.userFrom(c.Request().Context())
	}
	ep, err := h.mgr.Register(req.URL, req.Secret, req.Events, user)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.List())
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.mgr.Get(c.Param("id"))
	if err != nil {
		return endpointError(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.mgr.Delete(c.Param("id")); err != nil {
		return endpointError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) setStatus(status string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := h.mgr.SetStatus(id, status); err != nil {
			return endpointError(err)
		}
		ep, err := h.mgr.Get(id)
		if err != nil {
			return endpointError(err)
		}
		return c.JSON(http.StatusOK, ep)
	}
}

func (h *Handler) Test(c echo.Context) error {
	d, err := h.mgr.Test(c.Request().Context(), c.Param("id"))
	if err != nil {
		return endpointError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Deliveries(c echo.Context) error {
	log, err := h.mgr.Deliveries(c.Param("id"))
	if err != nil {
		return endpointError(err)
	}
	return c.JSON(http.StatusOK, log)
}

func endpointError(err error) error {
	if errors.Is(err, ErrEndpointNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
