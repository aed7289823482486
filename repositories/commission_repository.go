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

// StatusChange describes the fields written together with a status transition.
type StatusChange struct {
	To              string
	At              time.Time
	PaidAt          *time.Time
	PayoutReference string
	CancelReason    string
}

// StatusMonthSum is one row of the per-partner totals aggregation.
type StatusMonthSum struct {
	Status string `bson:"status"`
	Month  string `bson:"month"`
	Amount int64  `bson:"amount"`
	Count  int64  `bson:"count"`
}

type CommissionRepository struct {
	collection *mongo.Collection
}

func NewCommissionRepository(db *mongo.Database) *CommissionRepository {
	return &CommissionRepository{
		collection: db.Collection(config.CommissionsCollection),
	}
}

// Insert stores a new record. A tuple collision surfaces as ErrDuplicateCommission.
func (r *CommissionRepository) Insert(ctx context.Context, rec *models.CommissionRecord) error {
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateCommission
		}
		return fmt.Errorf("insert commission: %w", err)
	}
	return nil
}

func (r *CommissionRepository) FindByKey(ctx context.Context, key models.CommissionKey) (*models.CommissionRecord, error) {
	return r.findOne(ctx, bson.M{
		"partnerId": key.PartnerID,
		"farmerId":  key.FarmerID,
		"orderId":   key.OrderID,
		"listingId": key.ListingID,
	})
}

func (r *CommissionRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *CommissionRepository) findOne(ctx context.Context, filter bson.M) (*models.CommissionRecord, error) {
	var rec models.CommissionRecord
	err := r.collection.FindOne(ctx, filter).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find commission: %w", err)
	}
	return &rec, nil
}

// List returns one page of records, newest first.
func (r *CommissionRepository) List(ctx context.Context, filter models.CommissionFilter, page models.Pagination) (*models.CommissionPage, error) {
	page = page.Normalize()
	query := listQuery(filter)

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count commissions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(page.Limit)
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	defer cursor.Close(ctx)

	items := []models.CommissionRecord{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode commissions: %w", err)
	}

	return &models.CommissionPage{
		Items:      items,
		Total:      total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: (total + page.Limit - 1) / page.Limit,
	}, nil
}

func listQuery(filter models.CommissionFilter) bson.M {
	query := bson.M{}
	if filter.PartnerID != nil {
		query["partnerId"] = *filter.PartnerID
	}
	if filter.FarmerID != nil {
		query["farmerId"] = *filter.FarmerID
	}
	if filter.OrderID != nil {
		query["orderId"] = *filter.OrderID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.From != nil || filter.To != nil {
		created := bson.M{}
		if filter.From != nil {
			created["$gte"] = *filter.From
		}
		if filter.To != nil {
			created["$lt"] = *filter.To
		}
		query["createdAt"] = created
	}
	return query
}

// TransitionStatus moves a record from one status to another only if it is still
// in the expected status and carries no unapplied totals marker. The new marker is
// written in the same update so the totals delta cannot be lost.
func (r *CommissionRepository) TransitionStatus(ctx context.Context, id primitive.ObjectID, from string, change StatusChange) (*models.CommissionRecord, error) {
	set := bson.M{
		"status":    change.To,
		"updatedAt": change.At,
		"totalsSync": models.TotalsSync{
			From:  from,
			To:    change.To,
			Since: change.At,
		},
	}
	if change.PaidAt != nil {
		set["paidAt"] = *change.PaidAt
	}
	if change.PayoutReference != "" {
		set["payoutReference"] = change.PayoutReference
	}
	if change.CancelReason != "" {
		set["cancelReason"] = change.CancelReason
	}

	filter := bson.M{
		"_id":        id,
		"status":     from,
		"totalsSync": bson.M{"$exists": false},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec models.CommissionRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("transition commission %s: %w", id.Hex(), err)
	}
	return &rec, nil
}

// ClaimTotalsSync removes the record's totals marker and returns the record as it
// was before removal. Only one caller can claim a given marker. A nil record means
// there was nothing to claim.
func (r *CommissionRepository) ClaimTotalsSync(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	filter := bson.M{"_id": id, "totalsSync": bson.M{"$exists": true}}
	update := bson.M{"$unset": bson.M{"totalsSync": ""}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var rec models.CommissionRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim totals sync %s: %w", id.Hex(), err)
	}
	return &rec, nil
}

// RestoreTotalsSync puts back a claimed marker after the totals update failed.
func (r *CommissionRepository) RestoreTotalsSync(ctx context.Context, id primitive.ObjectID, marker models.TotalsSync) error {
	filter := bson.M{"_id": id, "totalsSync": bson.M{"$exists": false}}
	res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"totalsSync": marker}})
	if err != nil {
		return fmt.Errorf("restore totals sync %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrMarkerSuperseded
	}
	return nil
}

// FindStaleTotalsSync lists records whose totals marker is older than before.
func (r *CommissionRepository) FindStaleTotalsSync(ctx context.Context, before time.Time, limit int64) ([]models.CommissionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "totalsSync.since", Value: 1}}).SetLimit(limit)
	cursor, err := r.collection.Find(ctx, bson.M{"totalsSync.since": bson.M{"$lt": before}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find stale totals sync: %w", err)
	}
	defer cursor.Close(ctx)

	var recs []models.CommissionRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode stale totals sync: %w", err)
	}
	return recs, nil
}

// ClearTotalsSync drops every outstanding marker of a partner. Used by
// reconciliation, whose full recount already includes those changes.
func (r *CommissionRepository) ClearTotalsSync(ctx context.Context, partnerID primitive.ObjectID) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"partnerId": partnerID, "totalsSync": bson.M{"$exists": true}},
		bson.M{"$unset": bson.M{"totalsSync": ""}},
	)
	if err != nil {
		return 0, fmt.Errorf("clear totals sync: %w", err)
	}
	return res.ModifiedCount, nil
}

// SumByStatusAndMonth aggregates a partner's non-cancelled commissions grouped by
// status and order month.
func (r *CommissionRepository) SumByStatusAndMonth(ctx context.Context, partnerID primitive.ObjectID) ([]StatusMonthSum, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"partnerId": partnerID,
			"status":    bson.M{"$ne": models.CommissionStatusCancelled},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"status": "$status",
				"month":  bson.M{"$dateToString": bson.M{"format": "%Y-%m", "date": "$orderDate"}},
			},
			"amount": bson.M{"$sum": "$amount"},
			"count":  bson.M{"$sum": 1},
		}}},
		{{Key: "$project", Value: bson.M{
			"_id":    0,
			"status": "$_id.status",
			"month":  "$_id.month",
			"amount": 1,
			"count":  1,
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate commissions: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []StatusMonthSum
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode commission aggregate: %w", err)
	}
	return rows, nil
}

// PartnerIDs returns every partner that has at least one commission record.
func (r *CommissionRepository) PartnerIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	values, err := r.collection.Distinct(ctx, "partnerId", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("distinct partners: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(values))
	for _, v := range values {
		if id, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
