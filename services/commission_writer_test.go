package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/models"
)

func newCandidate(partner *models.Partner, amount int64) CommissionCandidate {
	return CommissionCandidate{
		Key: models.CommissionKey{
			PartnerID: partner.ID,
			FarmerID:  primitive.NewObjectID(),
			OrderID:   primitive.NewObjectID(),
			ListingID: primitive.NewObjectID(),
		},
		PartnerUserID: partner.UserID,
		OrderAmount:   amount * 20,
		Rate:          0.05,
		Amount:        amount,
		OrderDate:     orderDate,
		Metadata:      models.CommissionMetadata{FarmerName: "Musa Bello", ProductName: "Rice"},
	}
}

func TestCommissionWriter_CreatesOnce(t *testing.T) {
	te := newTestEngine(t)
	announcer := &recordingAnnouncer{}
	writer := NewCommissionWriter(te.commissions, te.totals, announcer, zap.NewNop())
	partner := te.addPartner(0.05)
	c := newCandidate(partner, 5_000)

	first, err := writer.Write(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, models.CommissionStatusPending, first.Record.Status)
	assert.Nil(t, first.Record.TotalsSync)

	second, err := writer.Write(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	assert.Equal(t, 1, te.commissions.count())
	assert.Equal(t, 1, announcer.count())
	totals := te.partners.totals(partner.ID)
	assert.Equal(t, int64(5_000), totals.Pending)
	assert.Equal(t, int64(5_000), totals.Monthly["2026-03"])
}

func TestCommissionWriter_UniqueIndexCatchesRacingWriter(t *testing.T) {
	te := newTestEngine(t)
	announcer := &recordingAnnouncer{}
	writer := NewCommissionWriter(te.commissions, te.totals, announcer, zap.NewNop())
	partner := te.addPartner(0.05)
	c := newCandidate(partner, 5_000)

	_, err := writer.Write(context.Background(), c)
	require.NoError(t, err)

	te.commissions.mu.Lock()
	te.commissions.hideExisting = true
	te.commissions.mu.Unlock()

	res, err := writer.Write(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 1, te.commissions.count())
	assert.Equal(t, 1, announcer.count())
	assert.Equal(t, int64(5_000), te.partners.totals(partner.ID).Pending)
}

func TestCommissionWriter_ConcurrentWritesOfOneTuple(t *testing.T) {
	te := newTestEngine(t)
	announcer := &recordingAnnouncer{}
	writer := NewCommissionWriter(te.commissions, te.totals, announcer, zap.NewNop())
	partner := te.addPartner(0.05)
	c := newCandidate(partner, 7_500)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := writer.Write(context.Background(), c)
			if assert.NoError(t, err) && res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, te.commissions.count())
	assert.Equal(t, 1, announcer.count())
	assert.Equal(t, int64(7_500), te.partners.totals(partner.ID).Lifetime)
}

func TestCommissionWriter_TotalsFailureLeftForSweeper(t *testing.T) {
	te := newTestEngine(t)
	writer := NewCommissionWriter(te.commissions, te.totals, &recordingAnnouncer{}, zap.NewNop())
	writer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	partner := te.addPartner(0.05)
	te.partners.mu.Lock()
	te.partners.failIncrements = 1
	te.partners.mu.Unlock()

	res, err := writer.Write(context.Background(), newCandidate(partner, 5_000))
	require.NoError(t, err, "the record is durable even when totals lag")
	assert.True(t, res.Created)
	require.NotNil(t, res.Record.TotalsSync)
	assert.Zero(t, te.partners.totals(partner.ID).Pending)

	applied, err := te.totals.SweepPending(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(5_000), te.partners.totals(partner.ID).Pending)

	stored, err := te.commissions.FindByID(context.Background(), res.Record.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.TotalsSync)

	// nothing left behind for a second sweep
	applied, err = te.totals.SweepPending(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Equal(t, int64(5_000), te.partners.totals(partner.ID).Pending)
}

func TestCommissionWriter_InsertErrorReturned(t *testing.T) {
	te := newTestEngine(t)
	announcer := &recordingAnnouncer{}
	writer := NewCommissionWriter(te.commissions, te.totals, announcer, zap.NewNop())
	partner := te.addPartner(0.05)
	te.commissions.failInserts = 1

	_, err := writer.Write(context.Background(), newCandidate(partner, 5_000))
	assert.ErrorIs(t, err, errStorage)
	assert.Zero(t, te.commissions.count())
	assert.Zero(t, announcer.count())
	assert.Zero(t, te.partners.totals(partner.ID).Lifetime)
}

func TestCommissionWriter_RejectsNonPositiveAmount(t *testing.T) {
	te := newTestEngine(t)
	writer := NewCommissionWriter(te.commissions, te.totals, &recordingAnnouncer{}, zap.NewNop())
	partner := te.addPartner(0.05)

	for _, amount := range []int64{0, -1_000} {
		_, err := writer.Write(context.Background(), newCandidate(partner, amount))
		assert.ErrorIs(t, err, ErrNonPositiveCommission)
	}
	assert.Zero(t, te.commissions.count())
	assert.Zero(t, te.partners.totals(partner.ID).Lifetime)
}

func TestCommissionWriter_InsertThatLandedIsStillCreated(t *testing.T) {
	te := newTestEngine(t)
	announcer := &recordingAnnouncer{}
	writer := NewCommissionWriter(te.commissions, te.totals, announcer, zap.NewNop())
	partner := te.addPartner(0.05)
	c := newCandidate(partner, 5_000)
	c.RecordID = primitive.NewObjectID()
	te.commissions.lostAcks = 1

	_, err := writer.Write(context.Background(), c)
	require.ErrorIs(t, err, errStorage)

	retried, err := writer.Write(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, retried.Created)
	assert.Equal(t, c.RecordID, retried.Record.ID)
	assert.Equal(t, 1, announcer.count())
	assert.Equal(t, int64(5_000), te.partners.totals(partner.ID).Pending)

	// a different write of the same tuple is still a duplicate
	other := c
	other.RecordID = primitive.NewObjectID()
	again, err := writer.Write(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, 1, announcer.count())
}
