package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
	"github.com/garyjia/bill-workflow/internal/infrastructure/persistence/sqlite"
)

// SerialRepository implements port.SerialRepository with one counter row per prefix
type SerialRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSerialRepository creates a new serial repository
func NewSerialRepository(db *sql.DB, logger *zap.Logger) port.SerialRepository {
	return &SerialRepository{
		db:     db,
		logger: logger,
	}
}

// Next increments the prefix counter and returns the new value
func (r *SerialRepository) Next(ctx context.Context, prefix string) (int64, error) {
	query := `
		INSERT INTO serial_counters (prefix, value) VALUES (?, 1)
		ON CONFLICT(prefix) DO UPDATE SET value = value + 1
		RETURNING value
	`

	var value int64
	if err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, prefix).Scan(&value); err != nil {
		r.logger.Error("Failed to allocate serial", zap.String("prefix", prefix), zap.Error(err))
		return 0, fmt.Errorf("%w: failed to allocate serial: %v", workflow.ErrPersistence, err)
	}
	return value, nil
}

// Verify interface compliance
var _ port.SerialRepository = (*SerialRepository)(nil)
