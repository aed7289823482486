package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Payment statuses set by the checkout service. Only PaymentStatusPaid triggers commissions.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Order is owned by the checkout service; the commission engine only reads it.
type Order struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OrderNumber   string             `json:"orderNumber" bson:"orderNumber"`
	BuyerID       primitive.ObjectID `json:"buyerId" bson:"buyerId"`
	BuyerName     string             `json:"buyerName,omitempty" bson:"buyerName,omitempty"`
	Items         []OrderItem        `json:"items" bson:"items"`
	PaymentStatus string             `json:"paymentStatus" bson:"paymentStatus"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
}

// OrderItem is one line of an order. Price is per unit in minor units.
type OrderItem struct {
	ListingID primitive.ObjectID `json:"listingId" bson:"listing"`
	FarmerID  primitive.ObjectID `json:"farmerId,omitempty" bson:"farmerId,omitempty"`
	Price     int64              `json:"price" bson:"price"`
	Quantity  int64              `json:"quantity" bson:"quantity"`
}

// Listing is a farmer's product listing.
type Listing struct {
	ID       primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	FarmerID primitive.ObjectID `json:"farmerId" bson:"farmer"`
	Title    string             `json:"title" bson:"title"`
}

// Farmer is the subset of the users collection the engine needs.
type Farmer struct {
	ID        primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	FullName  string              `json:"fullName" bson:"fullName"`
	PartnerID *primitive.ObjectID `json:"partnerId,omitempty" bson:"partnerId,omitempty"`
}
