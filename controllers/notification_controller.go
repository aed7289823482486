package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/middleware"
	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
)

// Inbox is the user's durable notification list.
type Inbox interface {
	ListForUser(ctx context.Context, userID primitive.ObjectID, page models.Pagination) ([]models.Notification, int64, error)
	MarkRead(ctx context.Context, id, userID primitive.ObjectID) error
}

type NotificationController struct {
	inbox  Inbox
	logger *zap.Logger
}

func NewNotificationController(inbox Inbox, logger *zap.Logger) *NotificationController {
	return &NotificationController{inbox: inbox, logger: logger}
}

// List handles GET /api/notifications
func (nc *NotificationController) List(c echo.Context) error {
	userID, err := middleware.UserObjectID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "Authentication required",
		})
	}
	var page models.Pagination
	if err := echo.QueryParamsBinder(c).Int64("page", &page.Page).Int64("limit", &page.Limit).BindError(); err != nil {
		return badRequest(c, "page and limit must be numbers")
	}

	items, unread, err := nc.inbox.ListForUser(c.Request().Context(), userID, page.Normalize())
	if err != nil {
		nc.logger.Error("list notifications failed", zap.String("userId", userID.Hex()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to retrieve notifications",
		})
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Notifications retrieved",
		Data: map[string]interface{}{
			"notifications": items,
			"unread":        unread,
		},
	})
}

// MarkRead handles PUT /api/notifications/:id/read
func (nc *NotificationController) MarkRead(c echo.Context) error {
	userID, err := middleware.UserObjectID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, models.Response{
			Status:  http.StatusUnauthorized,
			Message: "Authentication required",
		})
	}
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return badRequest(c, "Invalid notification ID")
	}

	if err := nc.inbox.MarkRead(c.Request().Context(), id, userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.Response{
				Status:  http.StatusNotFound,
				Message: "Notification not found",
			})
		}
		nc.logger.Error("mark notification read failed", zap.String("notificationId", id.Hex()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.Response{
			Status:  http.StatusInternalServerError,
			Message: "Failed to update notification",
		})
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Notification marked as read",
	})
}
