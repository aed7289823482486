package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/agrimarket_backend/models"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		action  string
		from    string
		want    string
		wantErr error
	}{
		{ActionApprove, models.CommissionStatusPending, models.CommissionStatusApproved, nil},
		{ActionApprove, models.CommissionStatusApproved, "", ErrInvalidTransition},
		{ActionPay, models.CommissionStatusPending, models.CommissionStatusPaid, nil},
		{ActionPay, models.CommissionStatusApproved, models.CommissionStatusPaid, nil},
		{ActionCancel, models.CommissionStatusPending, models.CommissionStatusCancelled, nil},
		{ActionCancel, models.CommissionStatusApproved, models.CommissionStatusCancelled, nil},
		{ActionPay, models.CommissionStatusPaid, "", ErrInvalidTransition},
		{ActionCancel, models.CommissionStatusPaid, "", ErrInvalidTransition},
		{ActionApprove, models.CommissionStatusCancelled, "", ErrInvalidTransition},
		{ActionPay, models.CommissionStatusCancelled, "", ErrInvalidTransition},
		{"refund", models.CommissionStatusPending, "", ErrInvalidAction},
	}
	for _, tt := range tests {
		t.Run(tt.action+"_from_"+tt.from, func(t *testing.T) {
			got, err := NextStatus(tt.action, tt.from)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_BulkPayRecordsOnePayout(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	a := te.createCommission(t, partner, 1_000)
	b := te.createCommission(t, partner, 1_500)
	c := te.createCommission(t, partner, 2_500)
	actor := primitive.NewObjectID()

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{
		IDs:     ids(a, b, c),
		Action:  ActionPay,
		Payout:  &models.PayoutInfo{Method: "bank_transfer"},
		ActorID: actor,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded)
	assert.Zero(t, result.Failed)
	for _, item := range result.Results {
		assert.True(t, item.Success)
		assert.Equal(t, models.CommissionStatusPending, item.PreviousStatus)
		assert.Equal(t, models.CommissionStatusPaid, item.Status)
	}

	require.Len(t, result.Payouts, 1)
	payout := result.Payouts[0]
	assert.Equal(t, int64(5_000), payout.Amount)
	assert.Equal(t, partner.ID, payout.PartnerID)
	assert.Equal(t, ids(a, b, c), payout.CommissionIDs)
	assert.True(t, strings.HasPrefix(payout.Reference, "PAY-"))
	assert.Equal(t, "bank_transfer", payout.Method)
	assert.Equal(t, actor, payout.CreatedBy)
	assert.Len(t, te.payouts.payouts, 1)

	totals := te.partners.totals(partner.ID)
	assert.Equal(t, int64(5_000), totals.Paid)
	assert.Zero(t, totals.Pending)
	assert.Equal(t, int64(5_000), totals.Lifetime)

	for _, id := range ids(a, b, c) {
		rec, err := te.commissions.FindByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, payout.Reference, rec.PayoutReference)
		assert.NotNil(t, rec.PaidAt)
	}

	te.drain()
	var paid []models.Notification
	for _, n := range te.notifications.all() {
		if n.Type == models.NotificationTypeCommissionPaid {
			paid = append(paid, n)
		}
	}
	require.Len(t, paid, 1)
	assert.Equal(t, partner.UserID, paid[0].UserID)
	assert.Contains(t, paid[0].Message, "₦50.00")
	assert.Contains(t, paid[0].Message, payout.Reference)
}

func TestTransition_PartialBatch(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	a := te.createCommission(t, partner, 1_000)
	b := te.createCommission(t, partner, 2_000)
	c := te.createCommission(t, partner, 3_000)

	_, err := te.transitions.Transition(context.Background(), TransitionRequest{IDs: ids(b), Action: ActionPay})
	require.NoError(t, err)

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{IDs: ids(a, b, c), Action: ActionPay})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 3)
	assert.True(t, result.Results[0].Success)
	assert.False(t, result.Results[1].Success)
	assert.Contains(t, result.Results[1].Error, "already paid")
	assert.Equal(t, models.CommissionStatusPaid, result.Results[1].Status)
	assert.True(t, result.Results[2].Success)

	require.Len(t, result.Payouts, 1)
	assert.Equal(t, int64(4_000), result.Payouts[0].Amount)

	totals := te.partners.totals(partner.ID)
	assert.Equal(t, int64(6_000), totals.Paid)
	assert.Zero(t, totals.Pending)
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	paid := te.createCommission(t, partner, 1_000)
	cancelled := te.createCommission(t, partner, 2_000)
	ctx := context.Background()

	_, err := te.transitions.Transition(ctx, TransitionRequest{IDs: ids(paid), Action: ActionPay})
	require.NoError(t, err)
	_, err = te.transitions.Transition(ctx, TransitionRequest{IDs: ids(cancelled), Action: ActionCancel})
	require.NoError(t, err)
	before := te.partners.totals(partner.ID)

	for _, action := range []string{ActionApprove, ActionPay, ActionCancel} {
		result, err := te.transitions.Transition(ctx, TransitionRequest{IDs: ids(paid, cancelled), Action: action})
		require.NoError(t, err)
		assert.Zero(t, result.Succeeded, action)
		assert.Equal(t, 2, result.Failed, action)
		assert.Empty(t, result.Payouts)
	}

	after := te.partners.totals(partner.ID)
	assert.Equal(t, before.Lifetime, after.Lifetime)
	assert.Equal(t, before.Paid, after.Paid)
	assert.Equal(t, int64(1_000), after.Paid)
	assert.Equal(t, int64(1_000), after.Lifetime)
}

func TestTransition_ApproveThenPay(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	rec := te.createCommission(t, partner, 4_000)
	ctx := context.Background()

	result, err := te.transitions.Transition(ctx, TransitionRequest{IDs: ids(rec), Action: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, int64(4_000), te.partners.totals(partner.ID).Pending, "approved still counts as pending")

	result, err = te.transitions.Transition(ctx, TransitionRequest{IDs: ids(rec), Action: ActionPay})
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusApproved, result.Results[0].PreviousStatus)
	totals := te.partners.totals(partner.ID)
	assert.Equal(t, int64(4_000), totals.Paid)
	assert.Zero(t, totals.Pending)
}

func TestTransition_CancelKeepsReason(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	rec := te.createCommission(t, partner, 4_000)

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{
		IDs:    ids(rec),
		Action: ActionCancel,
		Reason: "order refunded",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, result.Payouts)

	stored, err := te.commissions.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusCancelled, stored.Status)
	assert.Equal(t, "order refunded", stored.CancelReason)

	totals := te.partners.totals(partner.ID)
	assert.Zero(t, totals.Lifetime)
	assert.Zero(t, totals.Pending)
}

func TestTransition_UnknownAndDuplicateIDs(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	rec := te.createCommission(t, partner, 1_000)
	missing := primitive.NewObjectID()

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{
		IDs:    []primitive.ObjectID{rec.ID, missing, rec.ID},
		Action: ActionApprove,
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	assert.True(t, result.Results[0].Success)
	assert.Equal(t, ErrCommissionNotFound.Error(), result.Results[1].Error)
	assert.Equal(t, "duplicate id in batch", result.Results[2].Error)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
}

func TestTransition_InvalidAction(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	rec := te.createCommission(t, partner, 1_000)

	_, err := te.transitions.Transition(context.Background(), TransitionRequest{IDs: ids(rec), Action: "refund"})
	assert.ErrorIs(t, err, ErrInvalidAction)

	stored, err := te.commissions.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusPending, stored.Status)
}

func TestTransition_PayoutReferenceFromRequest(t *testing.T) {
	te := newTestEngine(t)
	first := te.addPartner(0.05)
	second := te.addPartner(0.05)
	a := te.createCommission(t, first, 1_000)
	b := te.createCommission(t, second, 2_000)

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{
		IDs:    ids(a, b),
		Action: ActionPay,
		Payout: &models.PayoutInfo{Reference: "BANK-778812", Note: "March run"},
	})
	require.NoError(t, err)
	require.Len(t, result.Payouts, 2)
	assert.Equal(t, first.ID, result.Payouts[0].PartnerID)
	assert.Equal(t, second.ID, result.Payouts[1].PartnerID)
	for _, p := range result.Payouts {
		assert.Equal(t, "BANK-778812", p.Reference)
		assert.Equal(t, "March run", p.Note)
	}
}

func TestTransition_PendingMarkerAppliedFirst(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	rec := te.createCommission(t, partner, 1_000)

	// an approval whose totals update never landed
	_, err := te.commissions.TransitionStatus(context.Background(), rec.ID, models.CommissionStatusPending, statusChange(models.CommissionStatusApproved))
	require.NoError(t, err)

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{IDs: ids(rec), Action: ActionPay})
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)

	totals := te.partners.totals(partner.ID)
	assert.Equal(t, int64(1_000), totals.Paid)
	assert.Zero(t, totals.Pending)
	assert.Equal(t, int64(1_000), totals.Lifetime)
}

func TestTransition_PayoutRecordRetried(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	a := te.createCommission(t, partner, 1_000)
	te.payouts.failCreates = 1

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{
		IDs:    ids(a),
		Action: ActionPay,
	})
	require.NoError(t, err)
	require.Len(t, result.Payouts, 1)
	assert.Empty(t, result.PayoutErrors)
	assert.Empty(t, result.Results[0].Warning)
	assert.Equal(t, 2, te.payouts.creates)
	assert.Len(t, te.payouts.payouts, 1)
}

func TestTransition_UnrecordedPayoutIsReported(t *testing.T) {
	te := newTestEngine(t)
	partner := te.addPartner(0.05)
	other := te.addPartner(0.05)
	a := te.createCommission(t, partner, 1_000)
	b := te.createCommission(t, partner, 1_500)
	c := te.createCommission(t, other, 2_000)
	// partner's payout is created first and exhausts the retries
	te.payouts.failCreates = 3

	result, err := te.transitions.Transition(context.Background(), TransitionRequest{
		IDs:     ids(a, b, c),
		Action:  ActionPay,
		Payout:  &models.PayoutInfo{Reference: "BANK-7"},
		ActorID: primitive.NewObjectID(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded)

	require.Len(t, result.PayoutErrors, 1)
	lost := result.PayoutErrors[0]
	assert.Equal(t, partner.ID, lost.Payout.PartnerID)
	assert.Equal(t, int64(2_500), lost.Payout.Amount)
	assert.Equal(t, "BANK-7", lost.Payout.Reference)
	assert.Equal(t, ids(a, b), lost.Payout.CommissionIDs)
	assert.Contains(t, lost.Error, errStorage.Error())

	require.Len(t, result.Payouts, 1)
	assert.Equal(t, other.ID, result.Payouts[0].PartnerID)

	warnings := map[primitive.ObjectID]string{}
	for _, item := range result.Results {
		warnings[item.ID] = item.Warning
	}
	assert.NotEmpty(t, warnings[a.ID])
	assert.NotEmpty(t, warnings[b.ID])
	assert.Empty(t, warnings[c.ID])

	// the commissions are paid either way
	rec, err := te.commissions.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusPaid, rec.Status)

	te.drain()
	for _, n := range te.notifications.all() {
		if n.Type == models.NotificationTypeCommissionPaid {
			assert.Equal(t, other.UserID, n.UserID, "only the recorded payout is announced")
		}
	}
}
