package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/agrimarket_backend/config"
	"github.com/HSouheill/agrimarket_backend/models"
)

type PartnerRepository struct {
	collection *mongo.Collection
}

func NewPartnerRepository(db *mongo.Database) *PartnerRepository {
	return &PartnerRepository{
		collection: db.Collection(config.PartnersCollection),
	}
}

func (r *PartnerRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Partner, error) {
	var partner models.Partner
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&partner)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find partner: %w", err)
	}
	return &partner, nil
}

func (r *PartnerRepository) FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Partner, error) {
	var partner models.Partner
	err := r.collection.FindOne(ctx, bson.M{"userId": userID}).Decode(&partner)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find partner by user: %w", err)
	}
	return &partner, nil
}

// GetTotals reads only the cached totals of a partner.
func (r *PartnerRepository) GetTotals(ctx context.Context, id primitive.ObjectID) (*models.CommissionTotals, error) {
	var doc struct {
		Totals models.CommissionTotals `bson:"commissionTotals"`
	}
	opts := options.FindOne().SetProjection(bson.M{"commissionTotals": 1})
	err := r.collection.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get partner totals: %w", err)
	}
	return &doc.Totals, nil
}

// IncrementTotals applies a signed delta with a single $inc so concurrent
// commissions for the same partner never lose updates.
func (r *PartnerRepository) IncrementTotals(ctx context.Context, id primitive.ObjectID, delta models.TotalsDelta, at time.Time) error {
	if delta.IsZero() {
		return nil
	}
	inc := bson.M{}
	if delta.Lifetime != 0 {
		inc["commissionTotals.lifetime"] = delta.Lifetime
		if delta.Month != "" {
			inc["commissionTotals.monthly."+delta.Month] = delta.Lifetime
		}
	}
	if delta.Pending != 0 {
		inc["commissionTotals.pending"] = delta.Pending
	}
	if delta.Paid != 0 {
		inc["commissionTotals.paid"] = delta.Paid
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": inc,
		"$set": bson.M{"commissionTotals.updatedAt": at},
	})
	if err != nil {
		return fmt.Errorf("increment partner totals: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceTotals overwrites the cached totals. Reconciliation is authoritative.
func (r *PartnerRepository) ReplaceTotals(ctx context.Context, id primitive.ObjectID, totals models.CommissionTotals) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"commissionTotals": totals},
	})
	if err != nil {
		return fmt.Errorf("replace partner totals: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
