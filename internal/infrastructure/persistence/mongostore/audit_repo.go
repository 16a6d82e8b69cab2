package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
)

const msPerHour = 3600000.0

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		collection: db.Database().Collection(AuditCollection),
		logger:     logger,
	}
}

// Append inserts an audit record
func (r *AuditRepository) Append(ctx context.Context, record *entity.WorkflowAuditRecord) error {
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		r.logger.Error("Failed to append audit record", zap.String("bill_id", record.BillID), zap.Error(err))
		return persistenceErr("append audit record", err)
	}
	return nil
}

// LastForBill returns the newest record of a bill, or nil
func (r *AuditRepository) LastForBill(ctx context.Context, billID string) (*entity.WorkflowAuditRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var record entity.WorkflowAuditRecord
	if err := r.collection.FindOne(ctx, bson.M{"billId": billID}, opts).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, persistenceErr("get last audit record", err)
	}
	fillDuration(&record)
	return &record, nil
}

// ListByBill returns a bill's records oldest first
func (r *AuditRepository) ListByBill(ctx context.Context, billID string) ([]*entity.WorkflowAuditRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"billId": billID}, opts)
	if err != nil {
		return nil, persistenceErr("list audit records", err)
	}
	defer cursor.Close(ctx)

	var records []*entity.WorkflowAuditRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, persistenceErr("decode audit records", err)
	}
	for _, rec := range records {
		fillDuration(rec)
	}
	return records, nil
}

// DurationStatsByState aggregates durations by the state the bill left
func (r *AuditRepository) DurationStatsByState(ctx context.Context) ([]entity.StateDurationStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "action", Value: bson.D{{Key: "$ne", Value: entity.AuditActionCreate}}},
			{Key: "fromState", Value: bson.D{{Key: "$ne", Value: ""}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$fromState"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$duration"}}},
			{Key: "min", Value: bson.D{{Key: "$min", Value: "$duration"}}},
			{Key: "max", Value: bson.D{{Key: "$max", Value: "$duration"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, persistenceErr("aggregate durations", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		State string  `bson:"_id"`
		Count int64   `bson:"count"`
		Avg   float64 `bson:"avg"`
		Min   int64   `bson:"min"`
		Max   int64   `bson:"max"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, persistenceErr("decode duration stats", err)
	}

	stats := make([]entity.StateDurationStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, entity.StateDurationStats{
			State:    row.State,
			Count:    row.Count,
			AvgHours: row.Avg / msPerHour,
			MinHours: float64(row.Min) / msPerHour,
			MaxHours: float64(row.Max) / msPerHour,
		})
	}
	return stats, nil
}

func fillDuration(rec *entity.WorkflowAuditRecord) {
	rec.Duration = time.Duration(rec.DurationMS) * time.Millisecond
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
