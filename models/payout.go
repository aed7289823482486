package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PayoutInfo is supplied by the admin marking commissions paid.
type PayoutInfo struct {
	Reference string `json:"reference,omitempty" bson:"reference,omitempty"`
	Method    string `json:"method,omitempty" bson:"method,omitempty"`
	Note      string `json:"note,omitempty" bson:"note,omitempty"`
}

// PayoutTransaction is the audit record of one bulk payment to one partner.
type PayoutTransaction struct {
	ID            primitive.ObjectID   `json:"id,omitempty" bson:"_id,omitempty"`
	PartnerID     primitive.ObjectID   `json:"partnerId" bson:"partnerId"`
	Amount        int64                `json:"amount" bson:"amount"`
	CommissionIDs []primitive.ObjectID `json:"commissionIds" bson:"commissionIds"`
	Reference     string               `json:"reference" bson:"reference"`
	Method        string               `json:"method,omitempty" bson:"method,omitempty"`
	Note          string               `json:"note,omitempty" bson:"note,omitempty"`
	CreatedBy     primitive.ObjectID   `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	CreatedAt     time.Time            `json:"createdAt" bson:"createdAt"`
}
