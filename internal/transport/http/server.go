// Package http provides the HTTP server for the chat hub.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jrluiz96/roboteasy/internal/hub"
	"github.com/jrluiz96/roboteasy/internal/service"
	v1 "github.com/jrluiz96/roboteasy/internal/transport/http/v1"
	"github.com/jrluiz96/roboteasy/internal/ws"
)

// NewServer creates the HTTP server: REST API, health and the WebSocket route.
func NewServer(svc *service.Service, h *hub.Hub, wsServer *ws.Server, auth v1.AttendantResolver, corsOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/health", healthHandler(h))
	e.GET("/hubs/chat", wsServer.HandleWebSocket)

	v1Handler := v1.NewHandler(svc, auth)
	v1Handler.RegisterRoutes(e)

	return e
}

// healthHandler reports liveness with the hub's local counters.
func healthHandler(h *hub.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "healthy",
			"connections": h.ConnectionCount(),
			"groups":      h.GroupCount(),
		})
	}
}
