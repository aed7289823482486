package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Commission statuses
const (
	CommissionStatusPending   = "pending"
	CommissionStatusApproved  = "approved"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"
)

// CommissionKey is the natural identity of a commission: one partner, one farmer,
// one order line (order + listing).
type CommissionKey struct {
	PartnerID primitive.ObjectID `bson:"partnerId" json:"partnerId"`
	FarmerID  primitive.ObjectID `bson:"farmerId" json:"farmerId"`
	OrderID   primitive.ObjectID `bson:"orderId" json:"orderId"`
	ListingID primitive.ObjectID `bson:"listingId" json:"listingId"`
}

// CommissionRecord is a partner's earned commission on one order line item.
// Amounts are minor currency units (kobo).
type CommissionRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PartnerID       primitive.ObjectID `bson:"partnerId" json:"partnerId"`
	FarmerID        primitive.ObjectID `bson:"farmerId" json:"farmerId"`
	OrderID         primitive.ObjectID `bson:"orderId" json:"orderId"`
	ListingID       primitive.ObjectID `bson:"listingId" json:"listingId"`
	Amount          int64              `bson:"amount" json:"amount"`
	Rate            float64            `bson:"rate" json:"rate"`
	OrderAmount     int64              `bson:"orderAmount" json:"orderAmount"`
	OrderDate       time.Time          `bson:"orderDate" json:"orderDate"`
	Status          string             `bson:"status" json:"status"`
	PaidAt          *time.Time         `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	PayoutReference string             `bson:"payoutReference,omitempty" json:"payoutReference,omitempty"`
	CancelReason    string             `bson:"cancelReason,omitempty" json:"cancelReason,omitempty"`
	Metadata        CommissionMetadata `bson:"metadata" json:"metadata"`
	TotalsSync      *TotalsSync        `bson:"totalsSync,omitempty" json:"-"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Key returns the dedup tuple of the record.
func (c *CommissionRecord) Key() CommissionKey {
	return CommissionKey{
		PartnerID: c.PartnerID,
		FarmerID:  c.FarmerID,
		OrderID:   c.OrderID,
		ListingID: c.ListingID,
	}
}

// CommissionMetadata is denormalized display data for reporting. Not authoritative.
type CommissionMetadata struct {
	OrderNumber string `bson:"orderNumber,omitempty" json:"orderNumber,omitempty"`
	ProductName string `bson:"productName,omitempty" json:"productName,omitempty"`
	FarmerName  string `bson:"farmerName,omitempty" json:"farmerName,omitempty"`
	BuyerName   string `bson:"buyerName,omitempty" json:"buyerName,omitempty"`
	Quantity    int64  `bson:"quantity,omitempty" json:"quantity,omitempty"`
	UnitPrice   int64  `bson:"unitPrice,omitempty" json:"unitPrice,omitempty"`
	PlatformFee int64  `bson:"platformFee" json:"platformFee"`
}

// TotalsSync marks a status change whose effect on the partner's cached totals
// has been recorded but not yet applied.
type TotalsSync struct {
	From  string    `bson:"from" json:"from"`
	To    string    `bson:"to" json:"to"`
	Since time.Time `bson:"since" json:"since"`
}

// IsTerminalCommissionStatus reports whether no transition may leave status.
func IsTerminalCommissionStatus(status string) bool {
	return status == CommissionStatusPaid || status == CommissionStatusCancelled
}

// CommissionFilter narrows ListCommissions.
type CommissionFilter struct {
	PartnerID *primitive.ObjectID
	FarmerID  *primitive.ObjectID
	OrderID   *primitive.ObjectID
	Status    string
	From      *time.Time
	To        *time.Time
}

// Pagination is 1-based.
type Pagination struct {
	Page  int64 `json:"page"`
	Limit int64 `json:"limit"`
}

// Normalize applies defaults and caps the page size.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}

// Skip is the number of documents before the page.
func (p Pagination) Skip() int64 {
	return (p.Page - 1) * p.Limit
}

// CommissionPage is one page of ListCommissions.
type CommissionPage struct {
	Items      []CommissionRecord `json:"items"`
	Total      int64              `json:"total"`
	Page       int64              `json:"page"`
	Limit      int64              `json:"limit"`
	TotalPages int64              `json:"totalPages"`
}
