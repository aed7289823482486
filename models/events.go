package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Live push event names
const (
	EventCommissionCreated = "commission:created"
	EventCommissionPaid    = "commission:paid"
)

// DistributionEvent is pushed to a partner's live sessions. It is never persisted.
type DistributionEvent struct {
	Type           string             `json:"type"`
	PartnerID      primitive.ObjectID `json:"partnerId"`
	Amount         int64              `json:"amount"`
	OrderID        primitive.ObjectID `json:"orderId,omitempty"`
	FarmerName     string             `json:"farmerName,omitempty"`
	ProductName    string             `json:"productName,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
	TotalsSnapshot *PartnerTotals     `json:"totalsSnapshot,omitempty"`
}
