package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// BillRepository implements port.BillRepository on a MongoDB collection
type BillRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewBillRepository creates a new bill repository
func NewBillRepository(db *DB, logger *zap.Logger) port.BillRepository {
	return &BillRepository{
		collection: db.Database().Collection(BillsCollection),
		logger:     logger,
	}
}

// Create inserts a new bill at version 1
func (r *BillRepository) Create(ctx context.Context, bill *entity.Bill) error {
	bill.Version = 1
	if _, err := r.collection.InsertOne(ctx, bill); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: bill %s or serial %s already exists", workflow.ErrPersistence, bill.ID, bill.SerialNo)
		}
		r.logger.Error("Failed to create bill", zap.String("bill_id", bill.ID), zap.Error(err))
		return persistenceErr("create bill", err)
	}
	return nil
}

// GetByID retrieves a bill by ID
func (r *BillRepository) GetByID(ctx context.Context, id string) (*entity.Bill, error) {
	return r.findOne(ctx, bson.M{"_id": id}, id)
}

// GetBySerialNo retrieves a bill by serial number
func (r *BillRepository) GetBySerialNo(ctx context.Context, serialNo string) (*entity.Bill, error) {
	return r.findOne(ctx, bson.M{"serialNo": serialNo}, serialNo)
}

func (r *BillRepository) findOne(ctx context.Context, filter bson.M, label string) (*entity.Bill, error) {
	var bill entity.Bill
	if err := r.collection.FindOne(ctx, filter).Decode(&bill); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, label)
		}
		return nil, persistenceErr("get bill", err)
	}
	return &bill, nil
}

// Update replaces the document only while its version still equals expectedVersion
func (r *BillRepository) Update(ctx context.Context, bill *entity.Bill, expectedVersion int64) error {
	next := *bill
	next.Version = expectedVersion + 1

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": bill.ID, "version": expectedVersion}, &next)
	if err != nil {
		r.logger.Error("Failed to update bill", zap.String("bill_id", bill.ID), zap.Error(err))
		return persistenceErr("update bill", err)
	}
	if res.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": bill.ID})
		if err != nil {
			return persistenceErr("check bill", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", workflow.ErrNotFound, bill.ID)
		}
		return fmt.Errorf("%w: bill %s is no longer at version %d", workflow.ErrStaleState, bill.ID, expectedVersion)
	}

	bill.Version = next.Version
	return nil
}

// List returns bills newest first
func (r *BillRepository) List(ctx context.Context, filter port.BillFilter) ([]*entity.Bill, error) {
	query := bson.M{}
	if filter.State != "" {
		query["workflowState.currentState"] = filter.State
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	return r.find(ctx, query, opts)
}

// CountByState groups bills by their current state
func (r *BillRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$workflowState.currentState"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, persistenceErr("count bills", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		State string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, persistenceErr("decode bill counts", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

// ListStuck returns open bills whose lastUpdated is before the cutoff, oldest first
func (r *BillRepository) ListStuck(ctx context.Context, before time.Time, limit int) ([]*entity.Bill, error) {
	query := bson.M{
		"workflowState.currentState": bson.M{"$nin": bson.A{
			workflow.StateCompleted.String(),
			workflow.StateRejected.String(),
		}},
		"workflowState.lastUpdated": bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "workflowState.lastUpdated", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, query, opts)
}

func (r *BillRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*entity.Bill, error) {
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		r.logger.Error("Failed to query bills", zap.Error(err))
		return nil, persistenceErr("query bills", err)
	}
	defer cursor.Close(ctx)

	var bills []*entity.Bill
	if err := cursor.All(ctx, &bills); err != nil {
		return nil, persistenceErr("decode bills", err)
	}
	return bills, nil
}

// Verify interface compliance
var _ port.BillRepository = (*BillRepository)(nil)
