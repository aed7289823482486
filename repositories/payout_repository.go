package repositories

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/HSouheill/agrimarket_backend/config"
	"github.com/HSouheill/agrimarket_backend/models"
)

type PayoutRepository struct {
	collection *mongo.Collection
}

func NewPayoutRepository(db *mongo.Database) *PayoutRepository {
	return &PayoutRepository{
		collection: db.Collection(config.PayoutsCollection),
	}
}

func (r *PayoutRepository) Create(ctx context.Context, p *models.PayoutTransaction) error {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	// a retried insert that already landed is not an error
	if _, err := r.collection.InsertOne(ctx, p); err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert payout transaction: %w", err)
	}
	return nil
}
