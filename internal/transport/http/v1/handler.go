// Package v1 provides the REST handlers of the chat hub.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/identity"
	"github.com/jrluiz96/roboteasy/internal/service"
)

const userIDKey = "user_id"

// AttendantResolver authenticates attendant bearer tokens.
type AttendantResolver interface {
	ResolveAttendant(token string) (domain.Identity, error)
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	auth    AttendantResolver
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, auth AttendantResolver) *Handler {
	return &Handler{
		service: service,
		auth:    auth,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Public API for the chat widget
	e.POST("/api/v1/open/chat/start", h.StartChat)

	// Attendant API
	g := e.Group("/api/v1/conversations", h.RequireAttendant)
	g.GET("", h.ListConversations)
	g.GET("/history", h.History)
	g.GET("/:id", h.GetConversation)
	g.GET("/:id/messages", h.GetMessages)
	g.POST("/:id/join", h.Join)
	g.POST("/:id/leave", h.Leave)
	g.POST("/:id/invite/:userId", h.Invite)
	g.POST("/:id/finish", h.Finish)
}

// RequireAttendant rejects requests without a valid attendant bearer token.
func (h *Handler) RequireAttendant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := identity.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		}
		id, err := h.auth.ResolveAttendant(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
		c.Set(userIDKey, id.UserID)
		return next(c)
	}
}

func currentUserID(c echo.Context) int64 {
	id, _ := c.Get(userIDKey).(int64)
	return id
}

func pathID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// writeError maps service errors to HTTP responses.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	case errors.Is(err, service.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		c.Logger().Errorf("request failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
