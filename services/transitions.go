package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/metrics"
	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
)

// Transition actions
const (
	ActionApprove = "approve"
	ActionPay     = "pay"
	ActionCancel  = "cancel"
)

// NextStatus applies the commission state machine:
// pending -approve-> approved, pending|approved -pay-> paid,
// pending|approved -cancel-> cancelled. Paid and cancelled are terminal.
func NextStatus(action, from string) (string, error) {
	if models.IsTerminalCommissionStatus(from) {
		return "", fmt.Errorf("%w: commission is already %s", ErrInvalidTransition, from)
	}
	switch action {
	case ActionApprove:
		if from == models.CommissionStatusPending {
			return models.CommissionStatusApproved, nil
		}
	case ActionPay:
		if from == models.CommissionStatusPending || from == models.CommissionStatusApproved {
			return models.CommissionStatusPaid, nil
		}
	case ActionCancel:
		if from == models.CommissionStatusPending || from == models.CommissionStatusApproved {
			return models.CommissionStatusCancelled, nil
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return "", fmt.Errorf("%w: cannot %s a commission that is %s", ErrInvalidTransition, action, from)
}

// TransitionRequest is a batch status change.
type TransitionRequest struct {
	IDs     []primitive.ObjectID
	Action  string
	Payout  *models.PayoutInfo
	Reason  string
	ActorID primitive.ObjectID
}

// TransitionItemResult reports one id of a batch.
type TransitionItemResult struct {
	ID             primitive.ObjectID `json:"id"`
	Success        bool               `json:"success"`
	PreviousStatus string             `json:"previousStatus,omitempty"`
	Status         string             `json:"status,omitempty"`
	Error          string             `json:"error,omitempty"`
	Warning        string             `json:"warning,omitempty"`
}

// PayoutError is a payout whose commissions are paid but whose audit record could
// not be stored. The admin has to record it again with the same reference.
type PayoutError struct {
	Payout models.PayoutTransaction `json:"payout"`
	Error  string                   `json:"error"`
}

// TransitionResult is the per-id report of a batch. Invalid ids never stop the
// others from being processed.
type TransitionResult struct {
	Action    string                     `json:"action"`
	Results   []TransitionItemResult     `json:"results"`
	Succeeded int                        `json:"succeeded"`
	Failed    int                        `json:"failed"`
	Payouts   []models.PayoutTransaction `json:"payouts,omitempty"`
	// PayoutErrors lists payouts that were paid but not recorded
	PayoutErrors []PayoutError `json:"payoutErrors,omitempty"`
}

// PaidAnnouncer is notified after a payout is recorded.
type PaidAnnouncer interface {
	CommissionsPaid(payout *models.PayoutTransaction, partnerUserID primitive.ObjectID) bool
}

// TransitionManager moves commissions through the state machine and keeps partner
// totals in step with each status write.
type TransitionManager struct {
	commissions CommissionStore
	partners    PartnerStore
	payouts     PayoutStore
	totals      *TotalsAggregator
	announcer   PaidAnnouncer
	retry       RetryPolicy
	logger      *zap.Logger
	now         func() time.Time
}

func NewTransitionManager(commissions CommissionStore, partners PartnerStore, payouts PayoutStore, totals *TotalsAggregator, announcer PaidAnnouncer, logger *zap.Logger) *TransitionManager {
	return &TransitionManager{
		commissions: commissions,
		partners:    partners,
		payouts:     payouts,
		totals:      totals,
		announcer:   announcer,
		retry:       RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond},
		logger:      logger,
		now:         time.Now,
	}
}

// Transition applies the action to every id, best-effort per id.
func (m *TransitionManager) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	switch req.Action {
	case ActionApprove, ActionPay, ActionCancel:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	now := m.now()
	reference := ""
	if req.Action == ActionPay {
		if req.Payout != nil && req.Payout.Reference != "" {
			reference = req.Payout.Reference
		} else {
			reference = "PAY-" + uuid.NewString()
		}
	}

	result := &TransitionResult{Action: req.Action, Results: make([]TransitionItemResult, 0, len(req.IDs))}
	seen := map[primitive.ObjectID]bool{}
	paidByPartner := map[primitive.ObjectID]*models.PayoutTransaction{}
	var partnerOrder []primitive.ObjectID

	for _, id := range req.IDs {
		if seen[id] {
			result.add(TransitionItemResult{ID: id, Error: "duplicate id in batch"})
			continue
		}
		seen[id] = true

		item, rec := m.transitionOne(ctx, id, req, now, reference)
		result.add(item)
		metrics.TransitionsTotal.WithLabelValues(req.Action, outcomeLabel(item.Success)).Inc()

		if item.Success && req.Action == ActionPay {
			payout, ok := paidByPartner[rec.PartnerID]
			if !ok {
				payout = &models.PayoutTransaction{
					ID:        primitive.NewObjectID(),
					PartnerID: rec.PartnerID,
					Reference: reference,
					CreatedBy: req.ActorID,
					CreatedAt: now,
				}
				if req.Payout != nil {
					payout.Method = req.Payout.Method
					payout.Note = req.Payout.Note
				}
				paidByPartner[rec.PartnerID] = payout
				partnerOrder = append(partnerOrder, rec.PartnerID)
			}
			payout.Amount += rec.Amount
			payout.CommissionIDs = append(payout.CommissionIDs, rec.ID)
		}
	}

	for _, partnerID := range partnerOrder {
		payout := paidByPartner[partnerID]
		err := m.retry.retry(ctx, func(ctx context.Context) error {
			return m.payouts.Create(ctx, payout)
		})
		if err != nil {
			metrics.PayoutRecordFailuresTotal.Inc()
			m.logger.Error("failed to record payout transaction",
				zap.String("partnerId", partnerID.Hex()),
				zap.String("reference", payout.Reference),
				zap.Int64("amount", payout.Amount),
				zap.Int("commissions", len(payout.CommissionIDs)),
				zap.Error(err))
			result.PayoutErrors = append(result.PayoutErrors, PayoutError{Payout: *payout, Error: err.Error()})
			result.warn(payout.CommissionIDs, "paid, but the payout record was not stored")
			continue
		}
		result.Payouts = append(result.Payouts, *payout)
		m.announcePaid(ctx, payout)
	}

	m.logger.Info("commission transition batch processed",
		zap.String("action", req.Action),
		zap.Int("requested", len(req.IDs)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("payoutErrors", len(result.PayoutErrors)))
	return result, nil
}

func (m *TransitionManager) transitionOne(ctx context.Context, id primitive.ObjectID, req TransitionRequest, now time.Time, reference string) (TransitionItemResult, *models.CommissionRecord) {
	item := TransitionItemResult{ID: id}

	rec, err := m.commissions.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		item.Error = ErrCommissionNotFound.Error()
		return item, nil
	}
	if err != nil {
		item.Error = err.Error()
		return item, nil
	}
	item.PreviousStatus = rec.Status
	item.Status = rec.Status

	to, err := NextStatus(req.Action, rec.Status)
	if err != nil {
		item.Error = err.Error()
		return item, nil
	}

	// an earlier change still owed to the totals must land before this one
	if rec.TotalsSync != nil {
		if err := m.totals.ApplyPending(ctx, id); err != nil {
			item.Error = "previous totals update still pending, retry later"
			return item, nil
		}
	}

	change := repositories.StatusChange{To: to, At: now}
	switch to {
	case models.CommissionStatusPaid:
		change.PaidAt = &now
		change.PayoutReference = reference
	case models.CommissionStatusCancelled:
		change.CancelReason = req.Reason
	}

	updated, err := m.commissions.TransitionStatus(ctx, id, rec.Status, change)
	if errors.Is(err, repositories.ErrStatusConflict) {
		item.Error = "commission changed concurrently, reload and retry"
		return item, nil
	}
	if err != nil {
		item.Error = err.Error()
		return item, nil
	}

	if err := m.totals.ApplyPending(ctx, id); err != nil {
		m.logger.Warn("partner totals not updated after transition, left for sweeper",
			zap.String("commissionId", id.Hex()),
			zap.String("to", to),
			zap.Error(err))
	}

	item.Success = true
	item.Status = updated.Status
	return item, updated
}

func (m *TransitionManager) announcePaid(ctx context.Context, payout *models.PayoutTransaction) {
	if m.announcer == nil {
		return
	}
	partner, err := m.partners.FindByID(ctx, payout.PartnerID)
	if err != nil {
		m.logger.Warn("cannot announce payout, partner lookup failed",
			zap.String("partnerId", payout.PartnerID.Hex()),
			zap.Error(err))
		return
	}
	m.announcer.CommissionsPaid(payout, partner.UserID)
}

func (r *TransitionResult) add(item TransitionItemResult) {
	r.Results = append(r.Results, item)
	if item.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

func (r *TransitionResult) warn(ids []primitive.ObjectID, warning string) {
	affected := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		affected[id] = true
	}
	for i := range r.Results {
		if r.Results[i].Success && affected[r.Results[i].ID] {
			r.Results[i].Warning = warning
		}
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "rejected"
}
