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

const msPerHour = 3600000.0

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts an audit record. Records are never updated.
func (r *AuditRepository) Append(ctx context.Context, record *entity.WorkflowAuditRecord) error {
	fromRoles, err := json.Marshal(rolesOrEmpty(record.FromUser.Roles))
	if err != nil {
		return fmt.Errorf("failed to encode roles: %w", err)
	}
	toRoles, err := json.Marshal(rolesOrEmpty(record.ToUser.Roles))
	if err != nil {
		return fmt.Errorf("failed to encode roles: %w", err)
	}

	query := `
		INSERT INTO workflow_audit (
			id, bill_id, from_user_id, from_user_name, from_user_roles,
			to_user_id, to_user_name, to_user_roles, action, remarks,
			from_state, new_state, from_count, to_count, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		record.ID,
		record.BillID,
		record.FromUser.ID,
		record.FromUser.Name,
		string(fromRoles),
		record.ToUser.ID,
		record.ToUser.Name,
		string(toRoles),
		record.Action,
		record.Remarks,
		record.FromState,
		record.NewState,
		record.FromCount,
		record.ToCount,
		record.DurationMS,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to append audit record", zap.String("bill_id", record.BillID), zap.Error(err))
		return fmt.Errorf("%w: failed to append audit record: %v", workflow.ErrPersistence, err)
	}
	return nil
}

const auditColumns = `
	id, bill_id, from_user_id, from_user_name, from_user_roles,
	to_user_id, to_user_name, to_user_roles, action, remarks,
	from_state, new_state, from_count, to_count, duration_ms, created_at
`

// LastForBill returns the newest record of a bill, or nil
func (r *AuditRepository) LastForBill(ctx context.Context, billID string) (*entity.WorkflowAuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM workflow_audit
		WHERE bill_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	record, err := scanAudit(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, billID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get last audit record", zap.String("bill_id", billID), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to get last audit record: %v", workflow.ErrPersistence, err)
	}
	return record, nil
}

// ListByBill returns a bill's records oldest first
func (r *AuditRepository) ListByBill(ctx context.Context, billID string) ([]*entity.WorkflowAuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM workflow_audit
		WHERE bill_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, billID)
	if err != nil {
		r.logger.Error("Failed to list audit records", zap.String("bill_id", billID), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to list audit records: %v", workflow.ErrPersistence, err)
	}
	defer rows.Close()

	var records []*entity.WorkflowAuditRecord
	for rows.Next() {
		record, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DurationStatsByState aggregates transition durations by the state the bill left
func (r *AuditRepository) DurationStatsByState(ctx context.Context) ([]entity.StateDurationStats, error) {
	query := `
		SELECT from_state, COUNT(*), AVG(duration_ms), MIN(duration_ms), MAX(duration_ms)
		FROM workflow_audit
		WHERE action <> ? AND from_state <> ''
		GROUP BY from_state
		ORDER BY from_state
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, entity.AuditActionCreate)
	if err != nil {
		r.logger.Error("Failed to aggregate durations", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to aggregate durations: %v", workflow.ErrPersistence, err)
	}
	defer rows.Close()

	var stats []entity.StateDurationStats
	for rows.Next() {
		var s entity.StateDurationStats
		var avg float64
		var min, max int64
		if err := rows.Scan(&s.State, &s.Count, &avg, &min, &max); err != nil {
			return nil, fmt.Errorf("failed to scan duration stats: %w", err)
		}
		s.AvgHours = avg / msPerHour
		s.MinHours = float64(min) / msPerHour
		s.MaxHours = float64(max) / msPerHour
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAudit(row rowScanner) (*entity.WorkflowAuditRecord, error) {
	var rec entity.WorkflowAuditRecord
	var fromRoles, toRoles string
	var createdAt int64

	err := row.Scan(
		&rec.ID,
		&rec.BillID,
		&rec.FromUser.ID,
		&rec.FromUser.Name,
		&fromRoles,
		&rec.ToUser.ID,
		&rec.ToUser.Name,
		&toRoles,
		&rec.Action,
		&rec.Remarks,
		&rec.FromState,
		&rec.NewState,
		&rec.FromCount,
		&rec.ToCount,
		&rec.DurationMS,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fromRoles), &rec.FromUser.Roles); err != nil {
		return nil, fmt.Errorf("corrupt from_user_roles: %w", err)
	}
	if err := json.Unmarshal([]byte(toRoles), &rec.ToUser.Roles); err != nil {
		return nil, fmt.Errorf("corrupt to_user_roles: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.Duration = msDuration(rec.DurationMS)
	return &rec, nil
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
