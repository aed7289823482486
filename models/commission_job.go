package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Commission job statuses
const (
	CommissionJobProcessing = "processing"
	CommissionJobCompleted  = "completed"
	CommissionJobFailed     = "failed"
)

// CommissionJob tracks commission processing for one order so failed runs can be resumed.
type CommissionJob struct {
	ID              primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	OrderID         primitive.ObjectID `json:"orderId" bson:"orderId"`
	Status          string             `json:"status" bson:"status"`
	Attempts        int                `json:"attempts" bson:"attempts"`
	LastError       string             `json:"lastError,omitempty" bson:"lastError,omitempty"`
	Created         int                `json:"created" bson:"created"`
	TotalCommission int64              `json:"totalCommission" bson:"totalCommission"`
	UpdatedAt       time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// OrderCommissionResult is returned by ProcessOrderCommissions. ProcessedItems and
// TotalCommission count only records created by this call.
type OrderCommissionResult struct {
	OrderID         primitive.ObjectID `json:"orderId"`
	ProcessedItems  int                `json:"processedItems"`
	TotalCommission int64              `json:"totalCommission"`
	Duplicates      int                `json:"duplicates"`
	Skipped         int                `json:"skipped"`
	Failed          int                `json:"failed"`
}
