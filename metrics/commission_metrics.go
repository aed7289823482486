package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommissionsCreatedTotal counts records created by the idempotent writer.
	CommissionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_created_total",
		Help: "Commission records created",
	})

	CommissionAmountCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commission_amount_created_minor_total",
		Help: "Sum of created commission amounts in minor units",
	})

	// CommissionDuplicatesTotal counts writes that found the tuple already present.
	CommissionDuplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_duplicates_total",
		Help: "Commission writes resolved as already created",
	}, []string{"detected_by"})

	CommissionItemsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_items_skipped_total",
		Help: "Order line items that produced no commission",
	}, []string{"reason"})

	OrderProcessingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_order_processing_total",
		Help: "Order commission processing runs by outcome",
	}, []string{"outcome"})

	OrderProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "commission_order_processing_duration_seconds",
		Help:    "Time to process commissions for one order",
		Buckets: prometheus.DefBuckets,
	})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_dispatch_total",
		Help: "Distribution side effects by channel and result",
	}, []string{"channel", "result"})

	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commission_dispatch_queue_depth",
		Help: "Dispatch tasks waiting for a worker",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_transitions_total",
		Help: "Commission status transitions by action and result",
	}, []string{"action", "result"})

	PayoutRecordFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commission_payout_record_failures_total",
		Help: "Payouts whose commissions were paid but whose audit record was not stored",
	})

	// TotalsSyncLostTotal counts claimed totals deltas that could not be put back.
	// Each one is partner totals drift until the next reconciliation.
	TotalsSyncLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commission_totals_sync_lost_total",
		Help: "Totals deltas neither applied nor restored",
	})

	TotalsSyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commission_totals_sync_failures_total",
		Help: "Partner totals increments that failed and were left for the sweeper",
	})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_reconciliations_total",
		Help: "Partner totals reconciliations by outcome",
	}, []string{"outcome"})

	ReconciliationDrift = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "commission_reconciliation_drift_minor",
		Help:    "Largest absolute drift found per reconciliation in minor units",
		Buckets: []float64{0, 1, 100, 1000, 10000, 100000, 1000000},
	})
)
