package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/middleware"
	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
	"github.com/HSouheill/agrimarket_backend/services"
	"github.com/HSouheill/agrimarket_backend/utils"
)

// CommissionEngine is the commission service as seen by the HTTP layer.
type CommissionEngine interface {
	ProcessOrderCommissions(ctx context.Context, orderID primitive.ObjectID) (*models.OrderCommissionResult, error)
	GetPartnerCommissionTotals(ctx context.Context, partnerID primitive.ObjectID) (*models.PartnerTotals, error)
	ListCommissions(ctx context.Context, filter models.CommissionFilter, page models.Pagination) (*models.CommissionPage, error)
	TransitionCommissions(ctx context.Context, req services.TransitionRequest) (*services.TransitionResult, error)
	ReconcilePartnerTotals(ctx context.Context, partnerID primitive.ObjectID) (*models.ReconcileReport, error)
	ReprocessFailed(ctx context.Context, limit int64) (int, error)
}

type PartnerLookup interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Partner, error)
	FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Partner, error)
}

// AffiliationManager owns the farmer -> partner reference.
type AffiliationManager interface {
	AssignPartner(ctx context.Context, farmerID primitive.ObjectID, partnerID *primitive.ObjectID, changedBy primitive.ObjectID, reason string) (*models.PartnerAffiliation, error)
	AffiliationHistory(ctx context.Context, farmerID primitive.ObjectID) ([]models.PartnerAffiliation, error)
}

type CommissionController struct {
	engine       CommissionEngine
	partners     PartnerLookup
	affiliations AffiliationManager
	logger       *zap.Logger
}

func NewCommissionController(engine CommissionEngine, partners PartnerLookup, affiliations AffiliationManager, logger *zap.Logger) *CommissionController {
	return &CommissionController{
		engine:       engine,
		partners:     partners,
		affiliations: affiliations,
		logger:       logger,
	}
}

type PayoutRequest struct {
	Reference string `json:"reference" validate:"omitempty,max=100"`
	Method    string `json:"method" validate:"omitempty,max=50"`
	Note      string `json:"note" validate:"omitempty,max=500"`
}

// TransitionCommissionsRequest is the body of POST /api/admin/commissions/transition
type TransitionCommissionsRequest struct {
	IDs    []string       `json:"ids" validate:"required,min=1,max=500,dive,len=24,hexadecimal"`
	Action string         `json:"action" validate:"required,oneof=approve pay cancel"`
	Payout *PayoutRequest `json:"payout,omitempty" validate:"omitempty"`
	Reason string         `json:"reason" validate:"omitempty,max=500"`
}

type AssignPartnerRequest struct {
	// empty detaches the farmer
	PartnerID string `json:"partnerId" validate:"omitempty,len=24,hexadecimal"`
	Reason    string `json:"reason" validate:"omitempty,max=500"`
}

// ProcessOrder handles POST /api/internal/orders/:id/commissions
func (cc *CommissionController) ProcessOrder(c echo.Context) error {
	orderID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return badRequest(c, "Invalid order ID")
	}

	result, err := cc.engine.ProcessOrderCommissions(c.Request().Context(), orderID)
	if err != nil {
		return cc.respondError(c, err, result)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Order commissions processed",
		Data:    result,
	})
}

// GetMyTotals handles GET /api/partners/me/commissions/totals
func (cc *CommissionController) GetMyTotals(c echo.Context) error {
	partner, err := cc.currentPartner(c)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	totals, err := cc.engine.GetPartnerCommissionTotals(c.Request().Context(), partner.ID)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission totals retrieved",
		Data:    totals,
	})
}

// ListMyCommissions handles GET /api/partners/me/commissions
func (cc *CommissionController) ListMyCommissions(c echo.Context) error {
	partner, err := cc.currentPartner(c)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	filter, page, err := parseCommissionQuery(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	// partners only ever see their own records
	filter.PartnerID = &partner.ID

	result, err := cc.engine.ListCommissions(c.Request().Context(), filter, page)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commissions retrieved",
		Data:    result,
	})
}

// GetPartnerTotals handles GET /api/admin/partners/:id/commissions/totals
func (cc *CommissionController) GetPartnerTotals(c echo.Context) error {
	partnerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return badRequest(c, "Invalid partner ID")
	}
	totals, err := cc.engine.GetPartnerCommissionTotals(c.Request().Context(), partnerID)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commission totals retrieved",
		Data:    totals,
	})
}

// ReconcilePartner handles POST /api/admin/partners/:id/commissions/reconcile
func (cc *CommissionController) ReconcilePartner(c echo.Context) error {
	partnerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return badRequest(c, "Invalid partner ID")
	}
	report, err := cc.engine.ReconcilePartnerTotals(c.Request().Context(), partnerID)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	cc.logger.Info("partner totals reconciled on demand",
		zap.String("partnerId", partnerID.Hex()),
		zap.String("by", middleware.GetUserIDFromToken(c)),
		zap.Int64("maxDrift", report.MaxAbsDrift()))
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Partner totals reconciled",
		Data:    report,
	})
}

// ListCommissions handles GET /api/admin/commissions
func (cc *CommissionController) ListCommissions(c echo.Context) error {
	filter, page, err := parseCommissionQuery(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	b := echo.QueryParamsBinder(c)
	var partnerID, farmerID, orderID string
	b.String("partnerId", &partnerID).String("farmerId", &farmerID).String("orderId", &orderID)
	for _, f := range []struct {
		raw  string
		dest **primitive.ObjectID
		name string
	}{
		{partnerID, &filter.PartnerID, "partnerId"},
		{farmerID, &filter.FarmerID, "farmerId"},
		{orderID, &filter.OrderID, "orderId"},
	} {
		if f.raw == "" {
			continue
		}
		id, err := primitive.ObjectIDFromHex(f.raw)
		if err != nil {
			return badRequest(c, "Invalid "+f.name)
		}
		*f.dest = &id
	}

	result, err := cc.engine.ListCommissions(c.Request().Context(), filter, page)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Commissions retrieved",
		Data:    result,
	})
}

// TransitionCommissions handles POST /api/admin/commissions/transition
func (cc *CommissionController) TransitionCommissions(c echo.Context) error {
	var req TransitionCommissionsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	ids := make([]primitive.ObjectID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return badRequest(c, "Invalid commission ID "+raw)
		}
		ids = append(ids, id)
	}
	actor, _ := middleware.UserObjectID(c)

	in := services.TransitionRequest{
		IDs:     ids,
		Action:  req.Action,
		Reason:  utils.SanitizeText(req.Reason, 500),
		ActorID: actor,
	}
	if req.Payout != nil {
		in.Payout = &models.PayoutInfo{
			Reference: utils.SanitizeText(req.Payout.Reference, 100),
			Method:    utils.SanitizeText(req.Payout.Method, 50),
			Note:      utils.SanitizeText(req.Payout.Note, 500),
		}
	}

	result, err := cc.engine.TransitionCommissions(c.Request().Context(), in)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	status := http.StatusOK
	if result.Succeeded == 0 && result.Failed > 0 {
		status = http.StatusUnprocessableEntity
	}
	message := "Commission transition processed"
	if len(result.PayoutErrors) > 0 {
		message = "Commissions paid, but some payout records were not stored"
	}
	return c.JSON(status, models.Response{
		Status:  status,
		Message: message,
		Data:    result,
	})
}

// ReprocessFailed handles POST /api/admin/commissions/reprocess
func (cc *CommissionController) ReprocessFailed(c echo.Context) error {
	limit := int64(100)
	if err := echo.QueryParamsBinder(c).Int64("limit", &limit).BindError(); err != nil || limit < 1 || limit > 1000 {
		return badRequest(c, "limit must be between 1 and 1000")
	}
	done, err := cc.engine.ReprocessFailed(c.Request().Context(), limit)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Failed orders reprocessed",
		Data:    map[string]int{"completed": done},
	})
}

// AssignFarmerPartner handles PUT /api/admin/farmers/:id/partner
func (cc *CommissionController) AssignFarmerPartner(c echo.Context) error {
	farmerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return badRequest(c, "Invalid farmer ID")
	}
	var req AssignPartnerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	var partnerID *primitive.ObjectID
	if req.PartnerID != "" {
		id, err := primitive.ObjectIDFromHex(req.PartnerID)
		if err != nil {
			return badRequest(c, "Invalid partner ID")
		}
		if _, err := cc.partners.FindByID(c.Request().Context(), id); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return cc.respondError(c, services.ErrPartnerNotFound, nil)
			}
			return cc.respondError(c, err, nil)
		}
		partnerID = &id
	}
	actor, _ := middleware.UserObjectID(c)

	entry, err := cc.affiliations.AssignPartner(c.Request().Context(), farmerID, partnerID, actor, utils.SanitizeText(req.Reason, 500))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.Response{
				Status:  http.StatusNotFound,
				Message: "Farmer not found",
			})
		}
		return cc.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Farmer partner updated",
		Data:    entry,
	})
}

// FarmerPartnerHistory handles GET /api/admin/farmers/:id/partner/history
func (cc *CommissionController) FarmerPartnerHistory(c echo.Context) error {
	farmerID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		return badRequest(c, "Invalid farmer ID")
	}
	history, err := cc.affiliations.AffiliationHistory(c.Request().Context(), farmerID)
	if err != nil {
		return cc.respondError(c, err, nil)
	}
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: "Affiliation history retrieved",
		Data:    history,
	})
}

func (cc *CommissionController) currentPartner(c echo.Context) (*models.Partner, error) {
	userID, err := middleware.UserObjectID(c)
	if err != nil {
		return nil, errUnauthenticated
	}
	partner, err := cc.partners.FindByUserID(c.Request().Context(), userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrPartnerNotFound
	}
	return partner, err
}

var errUnauthenticated = errors.New("authentication required")

// respondError maps engine errors to the response envelope. data is attached when
// the caller has a partial result to report.
func (cc *CommissionController) respondError(c echo.Context, err error, data interface{}) error {
	status := http.StatusInternalServerError
	message := "Internal server error"
	switch {
	case errors.Is(err, errUnauthenticated):
		status, message = http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, services.ErrOrderNotFound):
		status, message = http.StatusNotFound, "Order not found"
	case errors.Is(err, services.ErrPartnerNotFound):
		status, message = http.StatusNotFound, "Partner not found"
	case errors.Is(err, services.ErrCommissionNotFound), errors.Is(err, repositories.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, services.ErrOrderNotPaid):
		status, message = http.StatusConflict, "Order is not paid"
	case errors.Is(err, services.ErrInvalidAction), errors.Is(err, services.ErrInvalidTransition):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrProcessingFailed):
		// safe to retry: processing is idempotent
		status, message = http.StatusServiceUnavailable, "Commission processing failed, retry later"
	}
	if status >= http.StatusInternalServerError {
		cc.logger.Error("commission request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, models.Response{
		Status:  status,
		Message: message,
		Data:    data,
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, models.Response{
		Status:  http.StatusBadRequest,
		Message: message,
	})
}

var commissionStatuses = map[string]bool{
	models.CommissionStatusPending:   true,
	models.CommissionStatusApproved:  true,
	models.CommissionStatusPaid:      true,
	models.CommissionStatusCancelled: true,
}

// parseCommissionQuery reads status, from, to, page and limit.
func parseCommissionQuery(c echo.Context) (models.CommissionFilter, models.Pagination, error) {
	var filter models.CommissionFilter
	var page models.Pagination
	var from, to time.Time

	err := echo.QueryParamsBinder(c).
		String("status", &filter.Status).
		Time("from", &from, "2006-01-02").
		Time("to", &to, "2006-01-02").
		Int64("page", &page.Page).
		Int64("limit", &page.Limit).
		BindError()
	if err != nil {
		return filter, page, errors.New("invalid query parameters: use YYYY-MM-DD dates and numeric page/limit")
	}
	if filter.Status != "" && !commissionStatuses[filter.Status] {
		return filter, page, errors.New("invalid status")
	}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		// inclusive day
		end := to.Add(24 * time.Hour)
		filter.To = &end
	}
	return filter, page.Normalize(), nil
}
