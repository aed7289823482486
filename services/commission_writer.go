package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/metrics"
	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
)

// WriteResult tells whether this call created the record or found it.
type WriteResult struct {
	Created bool
	Record  *models.CommissionRecord
}

// CreatedAnnouncer is notified after a record is durably created.
type CreatedAnnouncer interface {
	CommissionCreated(rec *models.CommissionRecord, partnerUserID primitive.ObjectID) bool
}

// CommissionWriter creates at most one record per commission tuple. The unique
// index on the tuple is what guarantees it; the lookup before insert only saves a
// failed write on redelivery.
type CommissionWriter struct {
	commissions CommissionStore
	totals      *TotalsAggregator
	announcer   CreatedAnnouncer
	logger      *zap.Logger
	now         func() time.Time
}

func NewCommissionWriter(commissions CommissionStore, totals *TotalsAggregator, announcer CreatedAnnouncer, logger *zap.Logger) *CommissionWriter {
	return &CommissionWriter{
		commissions: commissions,
		totals:      totals,
		announcer:   announcer,
		logger:      logger,
		now:         time.Now,
	}
}

// Write persists the candidate. Storage errors are returned for the caller to retry.
func (w *CommissionWriter) Write(ctx context.Context, c CommissionCandidate) (*WriteResult, error) {
	if c.Amount <= 0 || c.OrderAmount <= 0 {
		return nil, permanent(fmt.Errorf("%w: amount %d on order amount %d", ErrNonPositiveCommission, c.Amount, c.OrderAmount))
	}
	existing, err := w.commissions.FindByKey(ctx, c.Key)
	if err == nil {
		if w.ownRecord(c, existing) {
			return w.created(ctx, c, existing), nil
		}
		metrics.CommissionDuplicatesTotal.WithLabelValues("lookup").Inc()
		return &WriteResult{Created: false, Record: existing}, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("lookup commission: %w", err)
	}

	id := c.RecordID
	if id.IsZero() {
		id = primitive.NewObjectID()
	}
	now := w.now()
	rec := &models.CommissionRecord{
		ID:          id,
		PartnerID:   c.Key.PartnerID,
		FarmerID:    c.Key.FarmerID,
		OrderID:     c.Key.OrderID,
		ListingID:   c.Key.ListingID,
		Amount:      c.Amount,
		Rate:        c.Rate,
		OrderAmount: c.OrderAmount,
		OrderDate:   c.OrderDate,
		Status:      models.CommissionStatusPending,
		Metadata:    c.Metadata,
		TotalsSync: &models.TotalsSync{
			From:  "",
			To:    models.CommissionStatusPending,
			Since: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = w.commissions.Insert(ctx, rec)
	if errors.Is(err, repositories.ErrDuplicateCommission) {
		existing, ferr := w.commissions.FindByKey(ctx, c.Key)
		if ferr != nil {
			return nil, fmt.Errorf("read commission after duplicate insert: %w", ferr)
		}
		if w.ownRecord(c, existing) {
			return w.created(ctx, c, existing), nil
		}
		metrics.CommissionDuplicatesTotal.WithLabelValues("unique_index").Inc()
		return &WriteResult{Created: false, Record: existing}, nil
	}
	if err != nil {
		return nil, err
	}
	return w.created(ctx, c, rec), nil
}

// ownRecord reports whether existing was inserted by an earlier attempt of this write.
func (w *CommissionWriter) ownRecord(c CommissionCandidate, existing *models.CommissionRecord) bool {
	if c.RecordID.IsZero() || existing.ID != c.RecordID {
		return false
	}
	w.logger.Info("commission insert from an earlier attempt found",
		zap.String("commissionId", existing.ID.Hex()),
		zap.String("orderId", existing.OrderID.Hex()))
	return true
}

func (w *CommissionWriter) created(ctx context.Context, c CommissionCandidate, rec *models.CommissionRecord) *WriteResult {
	metrics.CommissionsCreatedTotal.Inc()
	metrics.CommissionAmountCreatedTotal.Add(float64(rec.Amount))
	w.logger.Info("commission created",
		zap.String("commissionId", rec.ID.Hex()),
		zap.String("partnerId", rec.PartnerID.Hex()),
		zap.String("orderId", rec.OrderID.Hex()),
		zap.String("listingId", rec.ListingID.Hex()),
		zap.Int64("amount", rec.Amount))

	// the record carries the marker, so a failure here is picked up by the sweeper
	if err := w.totals.ApplyPending(ctx, rec.ID); err != nil {
		w.logger.Warn("partner totals not updated, left for sweeper",
			zap.String("commissionId", rec.ID.Hex()),
			zap.Error(err))
	} else {
		rec.TotalsSync = nil
	}

	if w.announcer != nil {
		w.announcer.CommissionCreated(rec, c.PartnerUserID)
	}
	return &WriteResult{Created: true, Record: rec}
}
