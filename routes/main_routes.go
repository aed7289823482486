package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HSouheill/agrimarket_backend/controllers"
	"github.com/HSouheill/agrimarket_backend/websocket"
)

// Handlers bundles what SetupRoutes wires.
type Handlers struct {
	Commission   *controllers.CommissionController
	Notification *controllers.NotificationController
	Hub          *websocket.Hub
	Auth         echo.MiddlewareFunc
	JWTSecret    string
	Health       func() error
}

// SetupRoutes configures all API routes by calling individual route registration functions
func SetupRoutes(e *echo.Echo, h Handlers) {
	e.Match([]string{http.MethodGet, http.MethodHead}, "/health", func(c echo.Context) error {
		if h.Health != nil {
			if err := h.Health(); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status":   "unhealthy",
					"database": err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":   "healthy",
			"database": "connected",
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// the token travels in the query string because browsers cannot set headers on upgrade
	e.GET("/api/ws", websocket.Handler(h.Hub, h.JWTSecret))

	RegisterCommissionRoutes(e, h.Auth, h.Commission)
	RegisterNotificationRoutes(e, h.Auth, h.Notification)
}
