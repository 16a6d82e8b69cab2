package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
	"github.com/garyjia/bill-workflow/internal/infrastructure/persistence/sqlite"
)

// UserRepository implements port.UserRepository and port.RoleResolver
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or replaces a directory entry
func (r *UserRepository) Upsert(ctx context.Context, user *entity.User) error {
	roles, err := json.Marshal(rolesOrEmpty(workflow.NormalizeRoles(user.Roles)))
	if err != nil {
		return fmt.Errorf("failed to encode roles: %w", err)
	}

	query := `
		INSERT INTO users (id, name, roles, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, roles = excluded.roles, active = excluded.active
	`
	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		user.ID, user.Name, string(roles), user.Active, toMillis(user.CreatedAt))
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("%w: failed to upsert user: %v", workflow.ErrPersistence, err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	query := `SELECT id, name, roles, active, created_at FROM users WHERE id = ?`

	var user entity.User
	var roles string
	var createdAt int64
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Name, &roles, &user.Active, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", workflow.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to get user: %v", workflow.ErrPersistence, err)
	}
	if err := json.Unmarshal([]byte(roles), &user.Roles); err != nil {
		return nil, fmt.Errorf("corrupt user roles: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

// ResolveRoles returns the roles of an active user. Inactive users have none.
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
