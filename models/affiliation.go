package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PartnerAffiliation is one change of a farmer's partner. A nil PartnerID means the
// farmer was detached.
type PartnerAffiliation struct {
	ID                primitive.ObjectID  `json:"id,omitempty" bson:"_id,omitempty"`
	FarmerID          primitive.ObjectID  `json:"farmerId" bson:"farmerId"`
	PartnerID         *primitive.ObjectID `json:"partnerId" bson:"partnerId"`
	PreviousPartnerID *primitive.ObjectID `json:"previousPartnerId,omitempty" bson:"previousPartnerId,omitempty"`
	ChangedBy         primitive.ObjectID  `json:"changedBy" bson:"changedBy"`
	Reason            string              `json:"reason,omitempty" bson:"reason,omitempty"`
	ChangedAt         time.Time           `json:"changedAt" bson:"changedAt"`
}
