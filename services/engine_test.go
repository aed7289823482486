package services

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/models"
)

var orderDate = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

// testEngine wires the real services over in-memory stores.
type testEngine struct {
	commissions   *memCommissions
	partners      *memPartners
	market        *memMarket
	notifications *memNotifications
	pusher        *memPusher
	payouts       *memPayouts
	jobs          *memJobs
	alerter       *recordingAlerter

	totals      *TotalsAggregator
	dispatcher  *Dispatcher
	resolver    *AttributionResolver
	writer      *CommissionWriter
	transitions *TransitionManager
	service     *CommissionService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	logger := zap.NewNop()
	te := &testEngine{
		commissions:   newMemCommissions(),
		partners:      newMemPartners(),
		market:        newMemMarket(),
		notifications: newMemNotifications(),
		pusher:        &memPusher{},
		payouts:       &memPayouts{},
		jobs:          newMemJobs(),
		alerter:       &recordingAlerter{},
	}
	te.totals = NewTotalsAggregator(te.commissions, te.partners, te.alerter, 100, logger)
	te.dispatcher = NewDispatcher(DispatcherConfig{
		Workers:     2,
		QueueSize:   64,
		MaxAttempts: 1,
		RetryBase:   time.Millisecond,
	}, te.pusher, te.notifications, te.totals, logger)
	te.dispatcher.Start()
	t.Cleanup(te.dispatcher.Close)

	te.resolver = NewAttributionResolver(te.market, te.market, te.partners, 0.05, 0.10, logger)
	te.writer = NewCommissionWriter(te.commissions, te.totals, te.dispatcher, logger)
	te.transitions = NewTransitionManager(te.commissions, te.partners, te.payouts, te.totals, te.dispatcher, logger)
	te.transitions.retry = RetryPolicy{Attempts: 2, Base: time.Millisecond}
	te.service = NewCommissionService(EngineConfig{
		MaxRetries:     2,
		RetryBase:      time.Millisecond,
		ItemWorkers:    4,
		MaxJobAttempts: 5,
	}, te.market, te.commissions, te.jobs, te.resolver, te.writer, te.totals, te.transitions, logger)
	return te
}

// drain waits until every queued announcement has been delivered.
func (te *testEngine) drain() {
	te.dispatcher.Close()
}

func (te *testEngine) addPartner(rate float64) *models.Partner {
	p := &models.Partner{
		ID:             primitive.NewObjectID(),
		UserID:         primitive.NewObjectID(),
		Name:           "Partner",
		CommissionRate: rate,
	}
	te.partners.mu.Lock()
	te.partners.partners[p.ID] = p
	te.partners.mu.Unlock()
	return p
}

// sellerOf adds a farmer under partner (nil for none) and one listing of theirs.
func (te *testEngine) sellerOf(partner *models.Partner, farmerName, product string) (*models.Farmer, *models.Listing) {
	var partnerID *primitive.ObjectID
	if partner != nil {
		id := partner.ID
		partnerID = &id
	}
	f := te.market.addFarmer(farmerName, partnerID)
	return f, te.market.addListing(f.ID, product)
}

func (te *testEngine) paidOrder(items ...models.OrderItem) *models.Order {
	o := &models.Order{
		ID:            primitive.NewObjectID(),
		OrderNumber:   "ORD-" + primitive.NewObjectID().Hex()[18:],
		BuyerID:       primitive.NewObjectID(),
		BuyerName:     "Ada Buyer",
		Items:         items,
		PaymentStatus: models.PaymentStatusPaid,
		CreatedAt:     orderDate,
	}
	te.market.addOrder(o)
	return o
}

func line(l *models.Listing, price, quantity int64) models.OrderItem {
	return models.OrderItem{ListingID: l.ID, FarmerID: l.FarmerID, Price: price, Quantity: quantity}
}

// createCommission writes a pending commission of amount for partner through the writer.
func (te *testEngine) createCommission(t *testing.T, partner *models.Partner, amount int64) *models.CommissionRecord {
	t.Helper()
	res, err := te.writer.Write(context.Background(), CommissionCandidate{
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
	})
	if err != nil {
		t.Fatalf("create commission: %v", err)
	}
	return res.Record
}

func ids(recs ...*models.CommissionRecord) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
