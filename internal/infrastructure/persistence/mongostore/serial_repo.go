package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
)

type serialCounter struct {
	Prefix string `bson:"_id"`
	Value  int64  `bson:"value"`
}

// SerialRepository implements port.SerialRepository with one counter document per prefix
type SerialRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewSerialRepository creates a new serial repository
func NewSerialRepository(db *DB, logger *zap.Logger) port.SerialRepository {
	return &SerialRepository{
		collection: db.Database().Collection(SerialsCollection),
		logger:     logger,
	}
}

// Next atomically increments and returns the prefix counter
func (r *SerialRepository) Next(ctx context.Context, prefix string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter serialCounter
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": prefix},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		r.logger.Error("Failed to allocate serial", zap.String("prefix", prefix), zap.Error(err))
		return 0, persistenceErr("allocate serial", err)
	}
	return counter.Value, nil
}

// Verify interface compliance
var _ port.SerialRepository = (*SerialRepository)(nil)
