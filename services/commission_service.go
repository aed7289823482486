package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HSouheill/agrimarket_backend/metrics"
	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
)

// EngineConfig bounds per-order processing.
type EngineConfig struct {
	MaxRetries     int
	RetryBase      time.Duration
	ItemWorkers    int
	MaxJobAttempts int
	// StaleJobAfter is how long a job may stay processing before it is resumed
	StaleJobAfter time.Duration
}

// CommissionService is the entry point of the commission engine: it turns paid orders
// into commission records and exposes totals, listing, transitions and reconciliation.
type CommissionService struct {
	orders      OrderSource
	commissions CommissionStore
	jobs        JobStore
	resolver    *AttributionResolver
	writer      *CommissionWriter
	totals      *TotalsAggregator
	transitions *TransitionManager
	cfg         EngineConfig
	logger      *zap.Logger
}

func NewCommissionService(
	cfg EngineConfig,
	orders OrderSource,
	commissions CommissionStore,
	jobs JobStore,
	resolver *AttributionResolver,
	writer *CommissionWriter,
	totals *TotalsAggregator,
	transitions *TransitionManager,
	logger *zap.Logger,
) *CommissionService {
	if cfg.ItemWorkers < 1 {
		cfg.ItemWorkers = 1
	}
	if cfg.MaxJobAttempts < 1 {
		cfg.MaxJobAttempts = 10
	}
	if cfg.StaleJobAfter <= 0 {
		cfg.StaleJobAfter = 15 * time.Minute
	}
	return &CommissionService{
		orders:      orders,
		commissions: commissions,
		jobs:        jobs,
		resolver:    resolver,
		writer:      writer,
		totals:      totals,
		transitions: transitions,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *CommissionService) retryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: s.cfg.MaxRetries, Base: s.cfg.RetryBase}
}

// ProcessOrderCommissions creates the commission records of a paid order. It is safe
// to call any number of times, concurrently or not, for the same order.
func (s *CommissionService) ProcessOrderCommissions(ctx context.Context, orderID primitive.ObjectID) (*models.OrderCommissionResult, error) {
	start := time.Now()
	result := &models.OrderCommissionResult{OrderID: orderID}
	policy := s.retryPolicy()

	var order *models.Order
	err := policy.retry(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindOrder(ctx, orderID)
		if errors.Is(err, repositories.ErrNotFound) {
			return permanent(ErrOrderNotFound)
		}
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		metrics.OrderProcessingTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load order: %v", ErrProcessingFailed, err)
	}
	if order.PaymentStatus != models.PaymentStatusPaid {
		metrics.OrderProcessingTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: payment status is %q", ErrOrderNotPaid, order.PaymentStatus)
	}

	if s.jobs != nil {
		if err := s.jobs.Start(ctx, orderID); err != nil {
			s.logger.Warn("commission job not recorded", zap.String("orderId", orderID.Hex()), zap.Error(err))
		}
	}

	var attribution *Attribution
	err = policy.retry(ctx, func(ctx context.Context) error {
		a, err := s.resolver.Resolve(ctx, order)
		if err != nil {
			return err
		}
		attribution = a
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, result, fmt.Errorf("attribute order: %w", err))
	}
	result.Skipped = len(attribution.Skipped)

	var mu sync.Mutex
	var firstErr error
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.ItemWorkers)
	for _, candidate := range attribution.Candidates {
		candidate := candidate
		candidate.RecordID = primitive.NewObjectID()
		g.Go(func() error {
			var written *WriteResult
			err := policy.retry(ctx, func(ctx context.Context) error {
				res, err := s.writer.Write(ctx, candidate)
				if err != nil {
					return err
				}
				written = res
				return nil
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				if firstErr == nil {
					firstErr = err
				}
				s.logger.Error("commission write failed",
					zap.String("orderId", orderID.Hex()),
					zap.String("listingId", candidate.Key.ListingID.Hex()),
					zap.String("partnerId", candidate.Key.PartnerID.Hex()),
					zap.Error(err))
			case written.Created:
				result.ProcessedItems++
				result.TotalCommission += written.Record.Amount
			default:
				result.Duplicates++
			}
			// failures are counted, the other items still run
			return nil
		})
	}
	_ = g.Wait()

	metrics.OrderProcessingDuration.Observe(time.Since(start).Seconds())

	if result.Failed > 0 {
		return result, s.fail(ctx, result, fmt.Errorf("%d of %d commission writes failed: %w",
			result.Failed, len(attribution.Candidates), firstErr))
	}

	if s.jobs != nil {
		if err := s.jobs.Complete(ctx, *result); err != nil {
			s.logger.Warn("commission job completion not recorded", zap.String("orderId", orderID.Hex()), zap.Error(err))
		}
	}
	metrics.OrderProcessingTotal.WithLabelValues("completed").Inc()
	s.logger.Info("order commissions processed",
		zap.String("orderId", orderID.Hex()),
		zap.String("orderNumber", order.OrderNumber),
		zap.Int("created", result.ProcessedItems),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("skipped", result.Skipped),
		zap.Int64("totalCommission", result.TotalCommission))
	return result, nil
}

// fail marks the order's job failed so the reprocessing pass can resume it.
func (s *CommissionService) fail(ctx context.Context, result *models.OrderCommissionResult, cause error) error {
	metrics.OrderProcessingTotal.WithLabelValues("failed").Inc()
	s.logger.Error("order commission processing failed",
		zap.String("orderId", result.OrderID.Hex()),
		zap.Error(cause))
	if s.jobs != nil {
		// the caller's context may be what failed
		jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.jobs.Fail(jctx, *result, cause); err != nil {
			s.logger.Error("failed to record failed commission job",
				zap.String("orderId", result.OrderID.Hex()),
				zap.Error(err))
		}
	}
	return fmt.Errorf("%w: %v", ErrProcessingFailed, cause)
}

// GetPartnerCommissionTotals returns the partner's cached totals.
func (s *CommissionService) GetPartnerCommissionTotals(ctx context.Context, partnerID primitive.ObjectID) (*models.PartnerTotals, error) {
	return s.totals.Totals(ctx, partnerID)
}

func (s *CommissionService) ListCommissions(ctx context.Context, filter models.CommissionFilter, page models.Pagination) (*models.CommissionPage, error) {
	return s.commissions.List(ctx, filter, page.Normalize())
}

func (s *CommissionService) TransitionCommissions(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	return s.transitions.Transition(ctx, req)
}

// ReconcilePartnerTotals recomputes the partner's totals from the records.
func (s *CommissionService) ReconcilePartnerTotals(ctx context.Context, partnerID primitive.ObjectID) (*models.ReconcileReport, error) {
	return s.totals.Reconcile(ctx, partnerID)
}

// ReprocessFailed re-runs orders whose processing failed or was interrupted.
// Returns how many completed.
func (s *CommissionService) ReprocessFailed(ctx context.Context, limit int64) (int, error) {
	if s.jobs == nil {
		return 0, nil
	}
	jobs, err := s.jobs.ListResumable(ctx, s.cfg.MaxJobAttempts, time.Now().Add(-s.cfg.StaleJobAfter), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := s.ProcessOrderCommissions(ctx, job.OrderID); err != nil {
			s.logger.Warn("reprocessing order commissions failed",
				zap.String("orderId", job.OrderID.Hex()),
				zap.Int("attempts", job.Attempts+1),
				zap.Error(err))
			continue
		}
		done++
	}
	if len(jobs) > 0 {
		s.logger.Info("failed commission jobs reprocessed", zap.Int("candidates", len(jobs)), zap.Int("completed", done))
	}
	return done, nil
}
