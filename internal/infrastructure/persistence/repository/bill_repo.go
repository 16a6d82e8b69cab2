package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
	"github.com/garyjia/bill-workflow/internal/infrastructure/persistence/sqlite"
)

// BillRepository implements port.BillRepository on SQLite.
// The whole bill is stored as a JSON document next to its indexed workflow columns.
type BillRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBillRepository creates a new bill repository
func NewBillRepository(db *sql.DB, logger *zap.Logger) port.BillRepository {
	return &BillRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new bill at version 1
func (r *BillRepository) Create(ctx context.Context, bill *entity.Bill) error {
	bill.Version = 1
	doc, err := json.Marshal(bill)
	if err != nil {
		return fmt.Errorf("failed to encode bill: %w", err)
	}

	query := `
		INSERT INTO bills (
			id, serial_no, current_state, current_count, max_count,
			last_updated, version, document, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		bill.ID,
		bill.SerialNo,
		bill.WorkflowState.CurrentState,
		bill.CurrentCount,
		bill.MaxCount,
		toMillis(bill.WorkflowState.LastUpdated),
		bill.Version,
		string(doc),
		toMillis(bill.CreatedAt),
		toMillis(bill.UpdatedAt),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return fmt.Errorf("%w: bill %s or serial %s already exists", workflow.ErrPersistence, bill.ID, bill.SerialNo)
		}
		r.logger.Error("Failed to create bill", zap.String("bill_id", bill.ID), zap.Error(err))
		return fmt.Errorf("%w: failed to create bill: %v", workflow.ErrPersistence, err)
	}
	return nil
}

// GetByID retrieves a bill by ID
func (r *BillRepository) GetByID(ctx context.Context, id string) (*entity.Bill, error) {
	return r.getOne(ctx, "id", id)
}

// GetBySerialNo retrieves a bill by serial number
func (r *BillRepository) GetBySerialNo(ctx context.Context, serialNo string) (*entity.Bill, error) {
	return r.getOne(ctx, "serial_no", serialNo)
}

func (r *BillRepository) getOne(ctx context.Context, column, value string) (*entity.Bill, error) {
	query := fmt.Sprintf(`SELECT document, version FROM bills WHERE %s = ?`, column)

	var doc string
	var version int64
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, value).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, value)
		}
		r.logger.Error("Failed to get bill", zap.String(column, value), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to get bill: %v", workflow.ErrPersistence, err)
	}
	return decodeBill(doc, version)
}

// Update writes the bill only when the stored version equals expectedVersion
func (r *BillRepository) Update(ctx context.Context, bill *entity.Bill, expectedVersion int64) error {
	next := *bill
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode bill: %w", err)
	}

	query := `
		UPDATE bills
		SET current_state = ?, current_count = ?, max_count = ?, last_updated = ?,
			version = ?, document = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	exec := sqlite.Executor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		next.WorkflowState.CurrentState,
		next.CurrentCount,
		next.MaxCount,
		toMillis(next.WorkflowState.LastUpdated),
		next.Version,
		string(doc),
		toMillis(next.UpdatedAt),
		next.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update bill", zap.String("bill_id", bill.ID), zap.Error(err))
		return fmt.Errorf("%w: failed to update bill: %v", workflow.ErrPersistence, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get rows affected: %v", workflow.ErrPersistence, err)
	}
	if rows == 0 {
		var exists int
		err := exec.QueryRowContext(ctx, `SELECT 1 FROM bills WHERE id = ?`, bill.ID).Scan(&exists)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			r.logger.Error("Failed to check bill existence", zap.String("bill_id", bill.ID), zap.Error(err))
		}
		return unmatchedUpdateErr(err, bill.ID, expectedVersion)
	}

	bill.Version = next.Version
	return nil
}

// unmatchedUpdateErr explains a conditional update that matched no row,
// given the outcome of the follow-up existence lookup
func unmatchedUpdateErr(lookupErr error, id string, expectedVersion int64) error {
	switch {
	case lookupErr == nil:
		return fmt.Errorf("%w: bill %s is no longer at version %d", workflow.ErrStaleState, id, expectedVersion)
	case errors.Is(lookupErr, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	default:
		return fmt.Errorf("%w: failed to check bill %s: %v", workflow.ErrPersistence, id, lookupErr)
	}
}

// List returns bills newest first
func (r *BillRepository) List(ctx context.Context, filter port.BillFilter) ([]*entity.Bill, error) {
	query := `SELECT document, version FROM bills`
	var args []interface{}
	if filter.State != "" {
		query += ` WHERE current_state = ?`
		args = append(args, filter.State)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	return r.query(ctx, query, args...)
}

// CountByState returns the number of bills per current state
func (r *BillRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx,
		`SELECT current_state, COUNT(*) FROM bills GROUP BY current_state`)
	if err != nil {
		r.logger.Error("Failed to count bills by state", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to count bills: %v", workflow.ErrPersistence, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan bill count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ListStuck returns open bills not updated since before, oldest first
func (r *BillRepository) ListStuck(ctx context.Context, before time.Time, limit int) ([]*entity.Bill, error) {
	query := `
		SELECT document, version FROM bills
		WHERE current_state NOT IN (?, ?) AND last_updated < ?
		ORDER BY last_updated ASC
		LIMIT ?
	`
	return r.query(ctx, query,
		workflow.StateCompleted.String(),
		workflow.StateRejected.String(),
		toMillis(before),
		limit,
	)
}

func (r *BillRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Bill, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query bills", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to query bills: %v", workflow.ErrPersistence, err)
	}
	defer rows.Close()

	var bills []*entity.Bill
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bill, err := decodeBill(doc, version)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func decodeBill(doc string, version int64) (*entity.Bill, error) {
	var bill entity.Bill
	if err := json.Unmarshal([]byte(doc), &bill); err != nil {
		return nil, fmt.Errorf("%w: corrupt bill document: %v", workflow.ErrPersistence, err)
	}
	bill.Version = version
	return &bill, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Verify interface compliance
var _ port.BillRepository = (*BillRepository)(nil)
