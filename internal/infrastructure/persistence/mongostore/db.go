package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// Collection names
const (
	BillsCollection   = "bills"
	AuditCollection   = "workflow_audit"
	SerialsCollection = "serial_counters"
	UsersCollection   = "users"
)

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration

	// Transactions wraps each unit of work in a multi-document transaction.
	// Requires a replica set.
	Transactions bool
}

// DB owns the client and implements port.TransactionManager
type DB struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
	logger       *zap.Logger
}

// Connect opens and pings a MongoDB connection
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", cfg.Database),
		zap.Bool("transactions", cfg.Transactions))

	return &DB{
		client:       client,
		db:           client.Database(cfg.Database),
		transactions: cfg.Transactions,
		logger:       logger,
	}, nil
}

// Database returns the underlying database handle
func (d *DB) Database() *mongo.Database {
	return d.db
}

// WithTransaction runs fn in a session transaction when enabled, otherwise directly.
// Without transactions the bill's conditional update is the only atomic step.
func (d *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !d.transactions {
		return fn(ctx)
	}

	session, err := d.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: failed to start session: %v", workflow.ErrPersistence, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the indexes the repositories query by
func (d *DB) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		BillsCollection: {
			{Keys: bson.D{{Key: "serialNo", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "workflowState.currentState", Value: 1}}},
			{Keys: bson.D{{Key: "workflowState.lastUpdated", Value: 1}}},
		},
		AuditCollection: {
			{Keys: bson.D{{Key: "billId", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "fromUser.id", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "newState", Value: 1}}},
		},
	}

	for name, models := range specs {
		if _, err := d.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	d.logger.Info("MongoDB indexes ensured")
	return nil
}

// Close disconnects the client
func (d *DB) Close(ctx context.Context) error {
	d.logger.Info("Disconnecting from MongoDB")
	return d.client.Disconnect(ctx)
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", workflow.ErrPersistence, op, err)
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
