package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotPaid       = errors.New("order is not paid")
	ErrPartnerNotFound    = errors.New("partner not found")
	ErrCommissionNotFound = errors.New("commission not found")
	ErrInvalidTransition  = errors.New("invalid commission status transition")
	ErrInvalidAction      = errors.New("invalid commission action")
	ErrProcessingFailed   = errors.New("order commission processing failed")

	ErrNonPositiveCommission = errors.New("commission amount must be positive")
)

// CommissionStore is the durable commission record store.
type CommissionStore interface {
	Insert(ctx context.Context, rec *models.CommissionRecord) error
	FindByKey(ctx context.Context, key models.CommissionKey) (*models.CommissionRecord, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error)
	List(ctx context.Context, filter models.CommissionFilter, page models.Pagination) (*models.CommissionPage, error)
	TransitionStatus(ctx context.Context, id primitive.ObjectID, from string, change repositories.StatusChange) (*models.CommissionRecord, error)
	ClaimTotalsSync(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error)
	RestoreTotalsSync(ctx context.Context, id primitive.ObjectID, marker models.TotalsSync) error
	FindStaleTotalsSync(ctx context.Context, before time.Time, limit int64) ([]models.CommissionRecord, error)
	ClearTotalsSync(ctx context.Context, partnerID primitive.ObjectID) (int64, error)
	SumByStatusAndMonth(ctx context.Context, partnerID primitive.ObjectID) ([]repositories.StatusMonthSum, error)
	PartnerIDs(ctx context.Context) ([]primitive.ObjectID, error)
}

// PartnerStore reads partners and writes their cached totals.
type PartnerStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Partner, error)
	GetTotals(ctx context.Context, id primitive.ObjectID) (*models.CommissionTotals, error)
	IncrementTotals(ctx context.Context, id primitive.ObjectID, delta models.TotalsDelta, at time.Time) error
	ReplaceTotals(ctx context.Context, id primitive.ObjectID, totals models.CommissionTotals) error
}

// OrderSource exposes the checkout service's orders and listings.
type OrderSource interface {
	FindOrder(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	FindListing(ctx context.Context, id primitive.ObjectID) (*models.Listing, error)
}

// FarmerDirectory resolves farmers and their current partner.
type FarmerDirectory interface {
	FindFarmer(ctx context.Context, id primitive.ObjectID) (*models.Farmer, error)
	ResolvePartnerForFarmer(ctx context.Context, farmerID primitive.ObjectID) (*primitive.ObjectID, error)
}

// NotificationStore persists inbox notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Pusher delivers an event to a user's live sessions. It must be a no-op when the
// user has none.
type Pusher interface {
	PushToUser(ctx context.Context, userID primitive.ObjectID, event string, payload interface{}) error
}

type PayoutStore interface {
	Create(ctx context.Context, p *models.PayoutTransaction) error
}

// JobStore tracks per-order processing state for resumable reprocessing.
type JobStore interface {
	Start(ctx context.Context, orderID primitive.ObjectID) error
	Complete(ctx context.Context, result models.OrderCommissionResult) error
	Fail(ctx context.Context, result models.OrderCommissionResult, cause error) error
	ListResumable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int64) ([]models.CommissionJob, error)
}

// DriftAlerter is told when reconciliation corrects a large drift.
type DriftAlerter interface {
	DriftDetected(ctx context.Context, report models.ReconcileReport) error
}
