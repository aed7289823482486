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

// UserRepository reads farmers and owns the farmer -> partner reference with its
// audit trail.
type UserRepository struct {
	collection   *mongo.Collection
	affiliations *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		collection:   db.Collection(config.UsersCollection),
		affiliations: db.Collection(config.AffiliationsCollection),
	}
}

func (r *UserRepository) FindFarmer(ctx context.Context, id primitive.ObjectID) (*models.Farmer, error) {
	var farmer models.Farmer
	opts := options.FindOne().SetProjection(bson.M{"fullName": 1, "partnerId": 1})
	err := r.collection.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&farmer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find farmer: %w", err)
	}
	return &farmer, nil
}

// ResolvePartnerForFarmer returns the farmer's current partner, or nil if none.
func (r *UserRepository) ResolvePartnerForFarmer(ctx context.Context, farmerID primitive.ObjectID) (*primitive.ObjectID, error) {
	farmer, err := r.FindFarmer(ctx, farmerID)
	if err != nil {
		return nil, err
	}
	return farmer.PartnerID, nil
}

// AssignPartner sets (or with a nil partnerID clears) the farmer's partner and
// records the change.
func (r *UserRepository) AssignPartner(ctx context.Context, farmerID primitive.ObjectID, partnerID *primitive.ObjectID, changedBy primitive.ObjectID, reason string) (*models.PartnerAffiliation, error) {
	now := time.Now()
	update := bson.M{"$set": bson.M{"updatedAt": now}}
	if partnerID != nil {
		update["$set"].(bson.M)["partnerId"] = *partnerID
	} else {
		update["$unset"] = bson.M{"partnerId": ""}
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.M{"fullName": 1, "partnerId": 1})
	var before models.Farmer
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": farmerID}, update, opts).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("assign partner: %w", err)
	}

	entry := &models.PartnerAffiliation{
		ID:                primitive.NewObjectID(),
		FarmerID:          farmerID,
		PartnerID:         partnerID,
		PreviousPartnerID: before.PartnerID,
		ChangedBy:         changedBy,
		Reason:            reason,
		ChangedAt:         now,
	}
	if _, err := r.affiliations.InsertOne(ctx, entry); err != nil {
		return nil, fmt.Errorf("record affiliation change: %w", err)
	}
	return entry, nil
}

// AffiliationHistory lists the farmer's partner changes, newest first.
func (r *UserRepository) AffiliationHistory(ctx context.Context, farmerID primitive.ObjectID) ([]models.PartnerAffiliation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "changedAt", Value: -1}})
	cursor, err := r.affiliations.Find(ctx, bson.M{"farmerId": farmerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find affiliation history: %w", err)
	}
	defer cursor.Close(ctx)

	history := []models.PartnerAffiliation{}
	if err := cursor.All(ctx, &history); err != nil {
		return nil, fmt.Errorf("decode affiliation history: %w", err)
	}
	return history, nil
}
