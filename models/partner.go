package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Partner is an agent/cooperative that onboards farmers and earns commission on their sales.
type Partner struct {
	ID             primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UserID         primitive.ObjectID `json:"userId" bson:"userId"`
	Name           string             `json:"name" bson:"name"`
	Email          string             `json:"email,omitempty" bson:"email,omitempty"`
	ReferralCode   string             `json:"referralCode,omitempty" bson:"referralCode,omitempty"`
	CommissionRate float64            `json:"commissionRate" bson:"commissionRate"`
	Totals         CommissionTotals   `json:"commissionTotals" bson:"commissionTotals"`
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// CommissionTotals is the cached per-partner view, kept by $inc deltas and overwritten by reconciliation.
type CommissionTotals struct {
	Lifetime     int64            `json:"lifetime" bson:"lifetime"`
	Pending      int64            `json:"pending" bson:"pending"`
	Paid         int64            `json:"paid" bson:"paid"`
	Monthly      map[string]int64 `json:"monthly,omitempty" bson:"monthly,omitempty"`
	ReconciledAt *time.Time       `json:"reconciledAt,omitempty" bson:"reconciledAt,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt" bson:"updatedAt"`
}

// PartnerTotals is what partner-facing APIs return.
type PartnerTotals struct {
	PartnerID primitive.ObjectID `json:"partnerId"`
	Lifetime  int64              `json:"lifetime"`
	Pending   int64              `json:"pending"`
	Paid      int64              `json:"paid"`
	ThisMonth int64              `json:"thisMonth"`
	AsOf      time.Time          `json:"asOf"`
}

// MonthKey buckets a time into the key used by CommissionTotals.Monthly.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Snapshot projects the cache into PartnerTotals for the month containing now.
func (t CommissionTotals) Snapshot(partnerID primitive.ObjectID, now time.Time) PartnerTotals {
	return PartnerTotals{
		PartnerID: partnerID,
		Lifetime:  t.Lifetime,
		Pending:   t.Pending,
		Paid:      t.Paid,
		ThisMonth: t.Monthly[MonthKey(now)],
		AsOf:      now,
	}
}

// TotalsDelta is a signed change to a partner's cached totals.
type TotalsDelta struct {
	Lifetime int64
	Pending  int64
	Paid     int64
	Month    string
}

// IsZero reports whether applying the delta changes nothing.
func (d TotalsDelta) IsZero() bool {
	return d.Lifetime == 0 && d.Pending == 0 && d.Paid == 0
}

// ReconcileReport is returned by reconciliation: the authoritative totals and how far the cache had drifted.
type ReconcileReport struct {
	PartnerID     primitive.ObjectID `json:"partnerId"`
	Totals        PartnerTotals      `json:"totals"`
	Previous      PartnerTotals      `json:"previous"`
	LifetimeDrift int64              `json:"lifetimeDrift"`
	PendingDrift  int64              `json:"pendingDrift"`
	PaidDrift     int64              `json:"paidDrift"`
	ReconciledAt  time.Time          `json:"reconciledAt"`
}

// MaxAbsDrift is the largest drift across the cached fields.
func (r ReconcileReport) MaxAbsDrift() int64 {
	max := int64(0)
	for _, d := range []int64{r.LifetimeDrift, r.PendingDrift, r.PaidDrift} {
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}
