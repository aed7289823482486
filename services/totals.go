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

// contribution is how much of a record's amount a status puts into each cached field.
func contribution(status string, amount int64) (lifetime, pending, paid int64) {
	switch status {
	case models.CommissionStatusPending, models.CommissionStatusApproved:
		return amount, amount, 0
	case models.CommissionStatusPaid:
		return amount, 0, amount
	default:
		return 0, 0, 0
	}
}

// DeltaFor is the change to a partner's cached totals when a record of amount moves
// from one status to another. An empty from means the record is new.
func DeltaFor(from, to string, amount int64, orderDate time.Time) models.TotalsDelta {
	fl, fp, fpaid := contribution(from, amount)
	tl, tp, tpaid := contribution(to, amount)
	return models.TotalsDelta{
		Lifetime: tl - fl,
		Pending:  tp - fp,
		Paid:     tpaid - fpaid,
		Month:    models.MonthKey(orderDate),
	}
}

// TotalsAggregator keeps partner totals caches: incremental $inc deltas on every
// create/transition, and full reconciliation from the records.
type TotalsAggregator struct {
	commissions    CommissionStore
	partners       PartnerStore
	alerter        DriftAlerter
	driftThreshold int64
	logger         *zap.Logger
	now            func() time.Time
}

func NewTotalsAggregator(commissions CommissionStore, partners PartnerStore, alerter DriftAlerter, driftThreshold int64, logger *zap.Logger) *TotalsAggregator {
	return &TotalsAggregator{
		commissions:    commissions,
		partners:       partners,
		alerter:        alerter,
		driftThreshold: driftThreshold,
		logger:         logger,
		now:            time.Now,
	}
}

// ApplyPending applies the record's outstanding totals marker, if any. The marker is
// claimed first so concurrent callers cannot apply it twice, and put back if the
// increment fails so the sweeper can retry it.
func (a *TotalsAggregator) ApplyPending(ctx context.Context, id primitive.ObjectID) error {
	rec, err := a.commissions.ClaimTotalsSync(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.TotalsSync == nil {
		return nil
	}
	marker := *rec.TotalsSync

	delta := DeltaFor(marker.From, marker.To, rec.Amount, rec.OrderDate)
	err = a.partners.IncrementTotals(ctx, rec.PartnerID, delta, a.now())
	if errors.Is(err, repositories.ErrNotFound) {
		a.logger.Error("partner missing while applying commission totals",
			zap.String("commissionId", id.Hex()),
			zap.String("partnerId", rec.PartnerID.Hex()))
		return nil
	}
	if err != nil {
		metrics.TotalsSyncFailuresTotal.Inc()
		if rerr := a.commissions.RestoreTotalsSync(ctx, id, marker); rerr != nil {
			metrics.TotalsSyncLostTotal.Inc()
			a.logger.Error("totals delta lost until the next reconciliation",
				zap.String("commissionId", id.Hex()),
				zap.String("partnerId", rec.PartnerID.Hex()),
				zap.String("from", marker.From),
				zap.String("to", marker.To),
				zap.Int64("amount", rec.Amount),
				zap.Error(rerr))
		}
		return fmt.Errorf("apply totals for commission %s: %w", id.Hex(), err)
	}
	return nil
}

// SweepPending applies markers older than grace. Returns how many were applied.
func (a *TotalsAggregator) SweepPending(ctx context.Context, grace time.Duration) (int, error) {
	stale, err := a.commissions.FindStaleTotalsSync(ctx, a.now().Add(-grace), 500)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, rec := range stale {
		if err := a.ApplyPending(ctx, rec.ID); err != nil {
			a.logger.Warn("totals sweep failed for commission", zap.String("commissionId", rec.ID.Hex()), zap.Error(err))
			continue
		}
		applied++
	}
	return applied, nil
}

// Totals returns the cached totals. They may lag by up to one reconciliation cycle.
func (a *TotalsAggregator) Totals(ctx context.Context, partnerID primitive.ObjectID) (*models.PartnerTotals, error) {
	cached, err := a.partners.GetTotals(ctx, partnerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}
	snapshot := cached.Snapshot(partnerID, a.now())
	return &snapshot, nil
}

// Reconcile recomputes a partner's totals from the records and overwrites the cache.
func (a *TotalsAggregator) Reconcile(ctx context.Context, partnerID primitive.ObjectID) (*models.ReconcileReport, error) {
	now := a.now()
	previous, err := a.partners.GetTotals(ctx, partnerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}

	// the recount below includes every outstanding marker
	cleared, err := a.commissions.ClearTotalsSync(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	rows, err := a.commissions.SumByStatusAndMonth(ctx, partnerID)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	totals := models.CommissionTotals{
		Monthly:      map[string]int64{},
		ReconciledAt: &now,
		UpdatedAt:    now,
	}
	for _, row := range rows {
		lifetime, pending, paid := contribution(row.Status, row.Amount)
		totals.Lifetime += lifetime
		totals.Pending += pending
		totals.Paid += paid
		if lifetime != 0 {
			totals.Monthly[row.Month] += lifetime
		}
	}

	if err := a.partners.ReplaceTotals(ctx, partnerID, totals); err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrPartnerNotFound
		}
		return nil, err
	}

	report := models.ReconcileReport{
		PartnerID:     partnerID,
		Totals:        totals.Snapshot(partnerID, now),
		Previous:      previous.Snapshot(partnerID, now),
		LifetimeDrift: totals.Lifetime - previous.Lifetime,
		PendingDrift:  totals.Pending - previous.Pending,
		PaidDrift:     totals.Paid - previous.Paid,
		ReconciledAt:  now,
	}
	drift := report.MaxAbsDrift()
	metrics.ReconciliationDrift.Observe(float64(drift))
	metrics.ReconciliationsTotal.WithLabelValues("ok").Inc()

	if drift > 0 {
		a.logger.Warn("partner commission totals drift corrected",
			zap.String("partnerId", partnerID.Hex()),
			zap.Int64("lifetimeDrift", report.LifetimeDrift),
			zap.Int64("pendingDrift", report.PendingDrift),
			zap.Int64("paidDrift", report.PaidDrift),
			zap.Int64("clearedMarkers", cleared))
	}
	if drift > a.driftThreshold && a.alerter != nil {
		if err := a.alerter.DriftDetected(ctx, report); err != nil {
			a.logger.Warn("drift alert failed", zap.String("partnerId", partnerID.Hex()), zap.Error(err))
		}
	}
	return &report, nil
}

// ReconcileAll reconciles every partner that has commission records.
func (a *TotalsAggregator) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := a.commissions.PartnerIDs(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := a.Reconcile(ctx, id); err != nil {
			a.logger.Warn("reconciliation failed", zap.String("partnerId", id.Hex()), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}
