package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/HSouheill/agrimarket_backend/metrics"
	"github.com/HSouheill/agrimarket_backend/models"
	"github.com/HSouheill/agrimarket_backend/repositories"
)

// Skip reasons for order lines that produce no commission
const (
	SkipMissingListing = "missing_listing"
	SkipMissingFarmer  = "missing_farmer"
	SkipNoPartner      = "no_partner"
	SkipMissingPartner = "missing_partner"
	SkipNonPositive    = "non_positive_amount"
)

// CommissionCandidate is one (partner, farmer, order, listing) tuple with its
// computed amount, ready for the writer.
type CommissionCandidate struct {
	// RecordID, when set, is the id the writer inserts under. Keeping it across
	// retries lets a retry recognise an insert that landed but reported an error.
	RecordID      primitive.ObjectID
	Key           models.CommissionKey
	PartnerUserID primitive.ObjectID
	OrderAmount   int64
	Rate          float64
	Amount        int64
	OrderDate     time.Time
	Metadata      models.CommissionMetadata
}

// SkippedItem is an order line that was not attributed.
type SkippedItem struct {
	ListingID primitive.ObjectID `json:"listingId"`
	Reason    string             `json:"reason"`
}

type farmerEntry struct {
	farmer    *models.Farmer
	partnerID *primitive.ObjectID
}

type Attribution struct {
	Candidates []CommissionCandidate
	Skipped    []SkippedItem
}

// AttributionResolver expands a paid order into commission candidates. It only reads.
type AttributionResolver struct {
	orders          OrderSource
	farmers         FarmerDirectory
	partners        PartnerStore
	defaultRate     float64
	platformFeeRate float64
	logger          *zap.Logger
}

func NewAttributionResolver(orders OrderSource, farmers FarmerDirectory, partners PartnerStore, defaultRate, platformFeeRate float64, logger *zap.Logger) *AttributionResolver {
	return &AttributionResolver{
		orders:          orders,
		farmers:         farmers,
		partners:        partners,
		defaultRate:     defaultRate,
		platformFeeRate: platformFeeRate,
		logger:          logger,
	}
}

// CommissionAmount is round(orderAmount * rate) in minor units.
func CommissionAmount(orderAmount int64, rate float64) int64 {
	return int64(math.Round(float64(orderAmount) * rate))
}

// Resolve attributes every line of the order. Missing references skip the line;
// storage errors fail the whole call so it can be retried.
func (r *AttributionResolver) Resolve(ctx context.Context, order *models.Order) (*Attribution, error) {
	out := &Attribution{}
	farmers := map[primitive.ObjectID]*farmerEntry{}
	partners := map[primitive.ObjectID]*models.Partner{}
	index := map[models.CommissionKey]int{}

	skipListing := func(listingID primitive.ObjectID, reason string, fields ...zap.Field) {
		out.Skipped = append(out.Skipped, SkippedItem{ListingID: listingID, Reason: reason})
		metrics.CommissionItemsSkippedTotal.WithLabelValues(reason).Inc()
		if reason != SkipNoPartner {
			r.logger.Warn("commission line skipped",
				append([]zap.Field{
					zap.String("orderId", order.ID.Hex()),
					zap.String("listingId", listingID.Hex()),
					zap.String("reason", reason),
				}, fields...)...)
		}
	}
	skip := func(item models.OrderItem, reason string, fields ...zap.Field) {
		skipListing(item.ListingID, reason, fields...)
	}

	for _, item := range order.Items {
		listing, err := r.orders.FindListing(ctx, item.ListingID)
		if errors.Is(err, repositories.ErrNotFound) {
			skip(item, SkipMissingListing)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve listing %s: %w", item.ListingID.Hex(), err)
		}

		farmerID := listing.FarmerID
		if farmerID.IsZero() {
			farmerID = item.FarmerID
		} else if !item.FarmerID.IsZero() && item.FarmerID != farmerID {
			r.logger.Warn("order line farmer differs from listing owner, using listing owner",
				zap.String("orderId", order.ID.Hex()),
				zap.String("listingId", listing.ID.Hex()),
				zap.String("itemFarmerId", item.FarmerID.Hex()),
				zap.String("listingFarmerId", farmerID.Hex()))
		}
		if farmerID.IsZero() {
			skip(item, SkipMissingFarmer)
			continue
		}

		entry, ok := farmers[farmerID]
		if !ok {
			farmer, err := r.farmers.FindFarmer(ctx, farmerID)
			if errors.Is(err, repositories.ErrNotFound) {
				skip(item, SkipMissingFarmer, zap.String("farmerId", farmerID.Hex()))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve farmer %s: %w", farmerID.Hex(), err)
			}
			partnerID, err := r.farmers.ResolvePartnerForFarmer(ctx, farmerID)
			if err != nil && !errors.Is(err, repositories.ErrNotFound) {
				return nil, fmt.Errorf("resolve partner for farmer %s: %w", farmerID.Hex(), err)
			}
			// every line of the farmer is attributed to the same partner
			entry = &farmerEntry{farmer: farmer, partnerID: partnerID}
			farmers[farmerID] = entry
		}
		farmer, partnerID := entry.farmer, entry.partnerID
		if partnerID == nil || partnerID.IsZero() {
			skip(item, SkipNoPartner)
			continue
		}

		partner, ok := partners[*partnerID]
		if !ok {
			partner, err = r.partners.FindByID(ctx, *partnerID)
			if errors.Is(err, repositories.ErrNotFound) {
				skip(item, SkipMissingPartner, zap.String("partnerId", partnerID.Hex()))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve partner %s: %w", partnerID.Hex(), err)
			}
			partners[*partnerID] = partner
		}

		itemAmount := item.Price * item.Quantity
		key := models.CommissionKey{
			PartnerID: partner.ID,
			FarmerID:  farmerID,
			OrderID:   order.ID,
			ListingID: listing.ID,
		}

		// the same listing on two lines of one order is one commission
		if i, dup := index[key]; dup {
			c := &out.Candidates[i]
			c.OrderAmount += itemAmount
			c.Amount = CommissionAmount(c.OrderAmount, c.Rate)
			c.Metadata.Quantity += item.Quantity
			c.Metadata.PlatformFee = CommissionAmount(c.OrderAmount, r.platformFeeRate)
			continue
		}

		rate := r.rateFor(partner)
		amount := CommissionAmount(itemAmount, rate)
		if itemAmount <= 0 || amount <= 0 {
			skip(item, SkipNonPositive, zap.Int64("itemAmount", itemAmount), zap.Float64("rate", rate))
			continue
		}

		index[key] = len(out.Candidates)
		out.Candidates = append(out.Candidates, CommissionCandidate{
			Key:           key,
			PartnerUserID: partner.UserID,
			OrderAmount:   itemAmount,
			Rate:          rate,
			Amount:        amount,
			OrderDate:     order.CreatedAt,
			Metadata: models.CommissionMetadata{
				OrderNumber: order.OrderNumber,
				ProductName: listing.Title,
				FarmerName:  farmer.FullName,
				BuyerName:   order.BuyerName,
				Quantity:    item.Quantity,
				UnitPrice:   item.Price,
				PlatformFee: CommissionAmount(itemAmount, r.platformFeeRate),
			},
		})
	}

	// merged lines can cancel each other out
	kept := out.Candidates[:0]
	for _, c := range out.Candidates {
		if c.OrderAmount <= 0 || c.Amount <= 0 {
			skipListing(c.Key.ListingID, SkipNonPositive,
				zap.Int64("itemAmount", c.OrderAmount), zap.Float64("rate", c.Rate))
			continue
		}
		kept = append(kept, c)
	}
	out.Candidates = kept

	return out, nil
}

func (r *AttributionResolver) rateFor(partner *models.Partner) float64 {
	if partner.CommissionRate > 0 && partner.CommissionRate <= 1 {
		return partner.CommissionRate
	}
	return r.defaultRate
}
