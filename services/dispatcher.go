package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/metrics"
	"github.com/HSouheill/agrimarket_backend/models"
)

// DispatcherConfig sizes the outbound queue.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryBase   time.Duration
	TaskTimeout time.Duration
}

type dispatchTask struct {
	partnerID     primitive.ObjectID
	partnerUserID primitive.ObjectID
	event         models.DistributionEvent
	notification  models.Notification
}

// Dispatcher announces commission events to partners off the critical path: a live
// push with a fresh totals snapshot and a durable inbox notification. Both are
// best-effort and retried independently; failures are logged and never reach the
// commission write.
type Dispatcher struct {
	queue         chan dispatchTask
	pusher        Pusher
	notifications NotificationStore
	totals        *TotalsAggregator
	cfg           DispatcherConfig
	closing       *atomic.Bool
	mu            sync.RWMutex
	wg            sync.WaitGroup
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, pusher Pusher, notifications NotificationStore, totals *TotalsAggregator, logger *zap.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	return &Dispatcher{
		queue:         make(chan dispatchTask, cfg.QueueSize),
		pusher:        pusher,
		notifications: notifications,
		totals:        totals,
		cfg:           cfg,
		closing:       atomic.NewBool(false),
		logger:        logger,
		now:           time.Now,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.queue {
				metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
				d.deliver(task)
			}
		}()
	}
}

// Close stops accepting tasks, drains the queue and waits for the workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closing.Load() {
		d.mu.Unlock()
		return
	}
	d.closing.Store(true)
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// CommissionCreated enqueues the announcement of a newly created record.
func (d *Dispatcher) CommissionCreated(rec *models.CommissionRecord, partnerUserID primitive.ObjectID) bool {
	return d.enqueue(dispatchTask{
		partnerID:     rec.PartnerID,
		partnerUserID: partnerUserID,
		event: models.DistributionEvent{
			Type:        models.EventCommissionCreated,
			PartnerID:   rec.PartnerID,
			Amount:      rec.Amount,
			OrderID:     rec.OrderID,
			FarmerName:  rec.Metadata.FarmerName,
			ProductName: rec.Metadata.ProductName,
			Timestamp:   d.now(),
		},
		notification: models.Notification{
			ID:      primitive.NewObjectID(),
			UserID:  partnerUserID,
			Title:   "New commission earned",
			Message: CommissionEarnedMessage(rec.Amount, rec.Metadata.FarmerName, rec.Metadata.ProductName),
			Type:    models.NotificationTypeCommissionEarned,
			Data: map[string]interface{}{
				"commissionId": rec.ID.Hex(),
				"orderId":      rec.OrderID.Hex(),
				"orderNumber":  rec.Metadata.OrderNumber,
				"amount":       rec.Amount,
				"farmerName":   rec.Metadata.FarmerName,
				"productName":  rec.Metadata.ProductName,
			},
		},
	})
}

// CommissionsPaid enqueues the announcement of a payout.
func (d *Dispatcher) CommissionsPaid(payout *models.PayoutTransaction, partnerUserID primitive.ObjectID) bool {
	return d.enqueue(dispatchTask{
		partnerID:     payout.PartnerID,
		partnerUserID: partnerUserID,
		event: models.DistributionEvent{
			Type:      models.EventCommissionPaid,
			PartnerID: payout.PartnerID,
			Amount:    payout.Amount,
			Timestamp: d.now(),
		},
		notification: models.Notification{
			ID:      primitive.NewObjectID(),
			UserID:  partnerUserID,
			Title:   "Commission paid",
			Message: fmt.Sprintf("%s in commissions has been paid to you (ref %s)", FormatNaira(payout.Amount), payout.Reference),
			Type:    models.NotificationTypeCommissionPaid,
			Data: map[string]interface{}{
				"payoutId":    payout.ID.Hex(),
				"amount":      payout.Amount,
				"reference":   payout.Reference,
				"commissions": len(payout.CommissionIDs),
			},
		},
	})
}

func (d *Dispatcher) enqueue(task dispatchTask) bool {
	if d.closing.Load() {
		metrics.DispatchTotal.WithLabelValues("queue", "closed").Inc()
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closing.Load() {
		metrics.DispatchTotal.WithLabelValues("queue", "closed").Inc()
		return false
	}

	select {
	case d.queue <- task:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		metrics.DispatchTotal.WithLabelValues("queue", "dropped").Inc()
		d.logger.Warn("dispatch queue full, dropping commission announcement",
			zap.String("partnerId", task.partnerID.Hex()),
			zap.String("event", task.event.Type))
		return false
	}
}

func (d *Dispatcher) deliver(task dispatchTask) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.TaskTimeout)
	defer cancel()

	policy := RetryPolicy{Attempts: d.cfg.MaxAttempts, Base: d.cfg.RetryBase}

	// notification first: it is the copy that survives a missed push
	task.notification.CreatedAt = d.now()
	err := policy.retry(ctx, func(ctx context.Context) error {
		return d.notifications.Create(ctx, &task.notification)
	})
	d.record("notification", task, err)

	if d.totals != nil {
		if snapshot, err := d.totals.Totals(ctx, task.partnerID); err == nil {
			task.event.TotalsSnapshot = snapshot
		} else {
			d.logger.Warn("totals snapshot unavailable for push", zap.String("partnerId", task.partnerID.Hex()), zap.Error(err))
		}
	}
	err = policy.retry(ctx, func(ctx context.Context) error {
		return d.pusher.PushToUser(ctx, task.partnerUserID, task.event.Type, task.event)
	})
	d.record("push", task, err)
}

func (d *Dispatcher) record(channel string, task dispatchTask, err error) {
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(channel, "failed").Inc()
		d.logger.Warn("commission announcement failed",
			zap.String("channel", channel),
			zap.String("partnerId", task.partnerID.Hex()),
			zap.String("event", task.event.Type),
			zap.Error(err))
		return
	}
	metrics.DispatchTotal.WithLabelValues(channel, "ok").Inc()
}

// CommissionEarnedMessage renders the commission_earned notification template.
func CommissionEarnedMessage(amount int64, farmerName, productName string) string {
	if farmerName == "" {
		farmerName = "a farmer"
	}
	if productName == "" {
		productName = "a product"
	}
	return fmt.Sprintf("You earned %s commission from %s's sale of %s", FormatNaira(amount), farmerName, productName)
}

// FormatNaira renders kobo as naira with two decimals and thousands separators.
func FormatNaira(kobo int64) string {
	sign := ""
	if kobo < 0 {
		sign = "-"
		kobo = -kobo
	}
	whole := kobo / 100
	frac := kobo % 100

	digits := fmt.Sprintf("%d", whole)
	grouped := make([]byte, 0, len(digits)+len(digits)/3)
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped = append(grouped, ',')
		}
		grouped = append(grouped, digits[i])
	}
	return fmt.Sprintf("%s₦%s.%02d", sign, grouped, frac)
}
