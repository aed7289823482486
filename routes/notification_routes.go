package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/agrimarket_backend/controllers"
)

// RegisterNotificationRoutes registers the authenticated user's inbox
func RegisterNotificationRoutes(e *echo.Echo, auth echo.MiddlewareFunc, nc *controllers.NotificationController) {
	notificationGroup := e.Group("/api/notifications", auth)
	notificationGroup.GET("", nc.List)
	notificationGroup.PUT("/:id/read", nc.MarkRead)
}
