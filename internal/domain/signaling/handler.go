package signaling

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/domain/telehealth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/telehealth/sessions/:id/signal", h.SendSignal)
	api.GET("/telehealth/sessions/:id/signals", h.PollSignals)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, telehealth.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, telehealth.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "user is not a participant of this session")
	case errors.Is(err, telehealth.ErrSessionClosed):
		return echo.NewHTTPError(http.StatusConflict, "session has ended")
	case errors.Is(err, ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

type sendRequest struct {
	ID       uuid.UUID       `json:"id,omitempty"`
	SenderID uuid.UUID       `json:"sender_id"`
	Kind     Kind            `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (h *Handler) SendSignal(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := h.svc.Send(c.Request().Context(), sessionID, req.SenderID, req.Kind, req.Payload, req.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) PollSignals(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := uuid.Parse(c.QueryParam("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	msgs, err := h.svc.Poll(c.Request().Context(), sessionID, userID)
	if err != nil {
		return httpError(err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}
