package telehealth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/clinicore/clinicore/pkg/pagination"
)

// TokenMinter issues short-lived credentials scoped to one session room.
type TokenMinter interface {
	MintRoomToken(sessionID, userID uuid.UUID, role Role, roomID string) (string, time.Time, error)
}

// ICEProvider supplies the STUN/TURN servers clients use for connectivity.
type ICEProvider interface {
	Servers() []webrtc.ICEServer
}

type Handler struct {
	svc    *Service
	tokens TokenMinter
	ice    ICEProvider
}

func NewHandler(svc *Service, tokens TokenMinter, ice ICEProvider) *Handler {
	return &Handler{svc: svc, tokens: tokens, ice: ice}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/telehealth/sessions", h.CreateSession)
	api.GET("/telehealth/sessions", h.ListSessions)
	api.GET("/telehealth/sessions/:id", h.GetSession)
	api.POST("/telehealth/sessions/:id/join", h.JoinSession)
	api.POST("/telehealth/sessions/:id/leave", h.LeaveSession)
	api.PATCH("/telehealth/sessions/:id/status", h.UpdateStatus)
	api.POST("/telehealth/sessions/:id/quality", h.RecordQuality)
	api.GET("/telehealth/sessions/:id/participants", h.GetParticipants)
	api.GET("/telehealth/sessions/:id/status-history", h.GetStatusHistory)
	api.GET("/telehealth/stats", h.GetStats)
}

// httpError maps service errors onto HTTP status codes. Too-early joins get
// a 425 with a Retry-After hint so clients know when the window opens.
func httpError(c echo.Context, err error) error {
	var tooEarly *TooEarlyError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "user is not a participant of this session")
	case errors.As(err, &tooEarly):
		retryAfter := int(time.Until(tooEarly.NotBefore).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
		return echo.NewHTTPError(http.StatusTooEarly, tooEarly.Error())
	case errors.Is(err, ErrSessionClosed):
		return echo.NewHTTPError(http.StatusConflict, "session has ended")
	case errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidParties),
		errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) CreateSession(c echo.Context) error {
	var sess Session
	if err := c.Bind(&sess); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.CreateSession(c.Request().Context(), &sess)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sess, err := h.svc.GetSession(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListSessions(c echo.Context) error {
	userID, err := uuid.Parse(c.QueryParam("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	page := pagination.FromContext(c)
	sessions, total, err := h.svc.ListSessionsForUser(c.Request().Context(), userID, page.Limit, page.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(sessions, total, page.Limit, page.Offset))
}

type joinRequest struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   Role       `json:"role"`
	Device DeviceInfo `json:"device"`
}

type roomConfig struct {
	RoomID     string             `json:"room_id"`
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
}

type joinResponse struct {
	Session     *Session     `json:"session"`
	Participant *Participant `json:"participant"`
	Token       string       `json:"token,omitempty"`
	TokenExpiry *time.Time   `json:"token_expires_at,omitempty"`
	Room        roomConfig   `json:"room"`
}

func (h *Handler) JoinSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req joinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, part, err := h.svc.RequestJoin(c.Request().Context(), id, req.UserID, req.Role, req.Device)
	if err != nil {
		return httpError(c, err)
	}

	resp := joinResponse{
		Session:     sess,
		Participant: part,
		Room:        roomConfig{RoomID: sess.RoomID},
	}
	if h.ice != nil {
		resp.Room.ICEServers = h.ice.Servers()
	}
	if h.tokens != nil {
		tok, exp, err := h.tokens.MintRoomToken(sess.ID, req.UserID, req.Role, sess.RoomID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("mint room token: %v", err))
		}
		resp.Token = tok
		resp.TokenExpiry = &exp
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) LeaveSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.LeaveSession(c.Request().Context(), id, req.UserID); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status            Status       `json:"status"`
		ConnectionQuality *QualityTier `json:"connection_quality,omitempty"`
		TechnicalIssues   *string      `json:"technical_issues,omitempty"`
		PatientFeedback   *string      `json:"patient_feedback,omitempty"`
		RecordingURL      *string      `json:"recording_url,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status, UpdateFields{
		ConnectionQuality: body.ConnectionQuality,
		TechnicalIssues:   body.TechnicalIssues,
		PatientFeedback:   body.PatientFeedback,
		RecordingURL:      body.RecordingURL,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) RecordQuality(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		UserID uuid.UUID     `json:"user_id"`
		Sample QualitySample `json:"sample"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tier, err := h.svc.RecordQualitySample(c.Request().Context(), id, body.UserID, body.Sample)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"connection_quality": string(tier)})
}

func (h *Handler) GetParticipants(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	parts, err := h.svc.ListParticipants(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, parts)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	history, err := h.svc.StatusHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) GetStats(c echo.Context) error {
	windowDays := 30
	if raw := c.QueryParam("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid window_days")
		}
		windowDays = n
	}
	stats, err := h.svc.SessionStats(c.Request().Context(), windowDays)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
