package webhook

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/pkg/pagination"
)

// Handler exposes endpoint management over HTTP.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes binds the management routes to the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/deliveries/:id/retry", h.Retry)
}

type registerRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// Register handles POST /webhooks.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, err := h.dispatcher.Register(c.Request().Context(), req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ep)
}

// List handles GET /webhooks.
func (h *Handler) List(c echo.Context) error {
	page := pagination.FromContext(c)
	eps, total, err := h.dispatcher.store.ListEndpoints(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, ep := range eps {
		ep.Secret = ""
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(eps, total, page.Limit, page.Offset))
}

// Get handles GET /webhooks/:id.
func (h *Handler) Get(c echo.Context) error {
	ep, err := h.dispatcher.store.GetEndpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

// Delete handles DELETE /webhooks/:id.
func (h *Handler) Delete(c echo.Context) error {
	if err := h.dispatcher.store.DeleteEndpoint(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "endpoint not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// Test handles POST /webhooks/:id/test.
func (h *Handler) Test(c echo.Context) error {
	attempt, err := h.dispatcher.Test(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

// Deliveries handles GET /webhooks/:id/deliveries.
func (h *Handler) Deliveries(c echo.Context) error {
	page := pagination.FromContext(c)
	logs, total, err := h.dispatcher.DeliveryLog(c.Request().Context(), c.Param("id"), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, page.Limit, page.Offset))
}

// Pause handles POST /webhooks/:id/pause.
func (h *Handler) Pause(c echo.Context) error {
	if err := h.dispatcher.Pause(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": StatusPaused})
}

// Resume handles POST /webhooks/:id/resume.
func (h *Handler) Resume(c echo.Context) error {
	if err := h.dispatcher.Resume(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": StatusActive})
}

// Retry handles POST /webhooks/deliveries/:id/retry.
func (h *Handler) Retry(c echo.Context) error {
	attempt, err := h.dispatcher.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}
