package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// UserRepository implements port.UserRepository and port.RoleResolver
type UserRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		collection: db.Database().Collection(UsersCollection),
		logger:     logger,
	}
}

// Upsert inserts or replaces a directory entry
func (r *UserRepository) Upsert(ctx context.Context, user *entity.User) error {
	doc := *user
	doc.Roles = workflow.NormalizeRoles(user.Roles)

	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": user.ID}, &doc, options.Replace().SetUpsert(true))
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", user.ID), zap.Error(err))
		return persistenceErr("upsert user", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: user %s", workflow.ErrNotFound, id)
		}
		return nil, persistenceErr("get user", err)
	}
	return &user, nil
}

// ResolveRoles returns the roles of an active user
func (r *UserRepository) ResolveRoles(ctx context.Context, userID string) ([]string, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, nil
	}
	return user.Roles, nil
}

// Verify interface compliance
var (
	_ port.UserRepository = (*UserRepository)(nil)
	_ port.RoleResolver   = (*UserRepository)(nil)
)
