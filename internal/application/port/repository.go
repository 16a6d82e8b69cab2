package port

import (
	"context"
	"time"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
)

// BillFilter narrows bill listings. Zero values mean no filter.
type BillFilter struct {
	State  string
	Limit  int
	Offset int
}

// BillRepository defines persistence operations for Bill documents
type BillRepository interface {
	Create(ctx context.Context, bill *entity.Bill) error
	GetByID(ctx context.Context, id string) (*entity.Bill, error)
	GetBySerialNo(ctx context.Context, serialNo string) (*entity.Bill, error)

	// Update replaces the bill only if its stored version still equals expectedVersion.
	// On success bill.Version is advanced; a mismatch returns workflow.ErrStaleState.
	Update(ctx context.Context, bill *entity.Bill, expectedVersion int64) error

	List(ctx context.Context, filter BillFilter) ([]*entity.Bill, error)

	// CountByState returns the number of bills per current workflow state
	CountByState(ctx context.Context) (map[string]int64, error)

	// ListStuck returns non-terminal bills whose lastUpdated is before the cutoff, oldest first
	ListStuck(ctx context.Context, before time.Time, limit int) ([]*entity.Bill, error)
}

// AuditRepository defines persistence operations for the append-only transition audit log
type AuditRepository interface {
	Append(ctx context.Context, record *entity.WorkflowAuditRecord) error

	// LastForBill returns the newest audit record of a bill, or nil when none exists
	LastForBill(ctx context.Context, billID string) (*entity.WorkflowAuditRecord, error)

	// ListByBill returns a bill's audit records oldest first
	ListByBill(ctx context.Context, billID string) ([]*entity.WorkflowAuditRecord, error)

	// DurationStatsByState aggregates durations by the state the bill left
	DurationStatsByState(ctx context.Context) ([]entity.StateDurationStats, error)
}

// SerialRepository hands out per-financial-year sequence numbers
type SerialRepository interface {
	// Next atomically increments and returns the counter for the prefix, starting at 1
	Next(ctx context.Context, prefix string) (int64, error)
}

// UserRepository defines persistence operations for the user directory
type UserRepository interface {
	Upsert(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

// RoleResolver returns the role set of a principal
type RoleResolver interface {
	ResolveRoles(ctx context.Context, userID string) ([]string, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
