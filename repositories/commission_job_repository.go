package repositories

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/agrimarket_backend/config"
	"github.com/HSouheill/agrimarket_backend/models"
)

type CommissionJobRepository struct {
	collection *mongo.Collection
}

func NewCommissionJobRepository(db *mongo.Database) *CommissionJobRepository {
	return &CommissionJobRepository{
		collection: db.Collection(config.CommissionJobsCollection),
	}
}

// Start records an attempt for the order, creating the job on first use.
func (r *CommissionJobRepository) Start(ctx context.Context, orderID primitive.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"orderId": orderID},
		bson.M{
			"$set":         bson.M{"status": models.CommissionJobProcessing, "updatedAt": time.Now()},
			"$inc":         bson.M{"attempts": 1},
			"$setOnInsert": bson.M{"_id": primitive.NewObjectID()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("start commission job: %w", err)
	}
	return nil
}

func (r *CommissionJobRepository) Complete(ctx context.Context, result models.OrderCommissionResult) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"orderId": result.OrderID},
		bson.M{
			"$set": bson.M{
				"status":    models.CommissionJobCompleted,
				"updatedAt": time.Now(),
			},
			"$inc":   bson.M{"created": result.ProcessedItems, "totalCommission": result.TotalCommission},
			"$unset": bson.M{"lastError": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("complete commission job: %w", err)
	}
	return nil
}

func (r *CommissionJobRepository) Fail(ctx context.Context, result models.OrderCommissionResult, cause error) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"orderId": result.OrderID},
		bson.M{
			"$set": bson.M{
				"status":    models.CommissionJobFailed,
				"lastError": cause.Error(),
				"updatedAt": time.Now(),
			},
			"$inc": bson.M{"created": result.ProcessedItems, "totalCommission": result.TotalCommission},
		},
	)
	if err != nil {
		return fmt.Errorf("fail commission job: %w", err)
	}
	return nil
}

// ListResumable returns jobs to run again, oldest first: failed jobs, and jobs
// still marked processing since before staleBefore, whose run never finished.
// Jobs that used up their attempts are left alone.
func (r *CommissionJobRepository) ListResumable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int64) ([]models.CommissionJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}}).SetLimit(limit)
	cursor, err := r.collection.Find(ctx, bson.M{
		"attempts": bson.M{"$lt": maxAttempts},
		"$or": bson.A{
			bson.M{"status": models.CommissionJobFailed},
			bson.M{"status": models.CommissionJobProcessing, "updatedAt": bson.M{"$lt": staleBefore}},
		},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("list resumable commission jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []models.CommissionJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("decode commission jobs: %w", err)
	}
	return jobs, nil
}
