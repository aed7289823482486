package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/agrimarket_backend/controllers"
	"github.com/HSouheill/agrimarket_backend/middleware"
)

// RegisterCommissionRoutes registers partner, admin and internal commission routes
func RegisterCommissionRoutes(e *echo.Echo, auth echo.MiddlewareFunc, cc *controllers.CommissionController) {
	// called by the checkout service once an order is paid
	internal := e.Group("/api/internal", auth, middleware.RequireUserType(middleware.UserTypeSystem, middleware.UserTypeAdmin))
	internal.POST("/orders/:id/commissions", cc.ProcessOrder)

	partner := e.Group("/api/partners/me", auth, middleware.RequireUserType(middleware.UserTypePartner))
	partner.GET("/commissions/totals", cc.GetMyTotals)
	partner.GET("/commissions", cc.ListMyCommissions)

	admin := e.Group("/api/admin", auth, middleware.RequireUserType(middleware.UserTypeAdmin))
	admin.GET("/partners/:id/commissions/totals", cc.GetPartnerTotals)
	admin.POST("/partners/:id/commissions/reconcile", cc.ReconcilePartner)
	admin.GET("/commissions", cc.ListCommissions)
	admin.POST("/commissions/transition", cc.TransitionCommissions)
	admin.POST("/commissions/reprocess", cc.ReprocessFailed)
	admin.PUT("/farmers/:id/partner", cc.AssignFarmerPartner)
	admin.GET("/farmers/:id/partner/history", cc.FarmerPartnerHistory)
}
