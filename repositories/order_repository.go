package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/agrimarket_backend/config"
	"github.com/HSouheill/agrimarket_backend/models"
)

// OrderRepository reads orders and listings owned by the marketplace services.
type OrderRepository struct {
	orders   *mongo.Collection
	listings *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{
		orders:   db.Collection(config.OrdersCollection),
		listings: db.Collection(config.ListingsCollection),
	}
}

func (r *OrderRepository) FindOrder(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var order models.Order
	err := r.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &order, nil
}

func (r *OrderRepository) FindListing(ctx context.Context, id primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	opts := options.FindOne().SetProjection(bson.M{"farmer": 1, "title": 1})
	err := r.listings.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find listing: %w", err)
	}
	return &listing, nil
}
