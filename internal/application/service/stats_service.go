package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/bill-workflow/internal/application/port"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// DefaultStuckLimit caps the stuck bill listing
const DefaultStuckLimit = 100

// StuckBill is a non-terminal bill that has not moved for a while
type StuckBill struct {
	BillID       string    `json:"billId"`
	SerialNo     string    `json:"serialNo"`
	CurrentState string    `json:"currentState"`
	CurrentCount int       `json:"currentCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
	IdleHours    float64   `json:"idleHours"`
}

// Stats is the workflow overview
type Stats struct {
	CountsByState    map[string]int64            `json:"countsByState"`
	DurationsByState []entity.StateDurationStats `json:"durationsByState"`
	StuckBills       []StuckBill                 `json:"stuckBills"`
	StuckAfterHours  float64                     `json:"stuckAfterHours"`
	GeneratedAt      time.Time                   `json:"generatedAt"`
}

// StatsService reports on the workflow as a whole
type StatsService interface {
	Stats(ctx context.Context, stuckAfter time.Duration, now time.Time) (*Stats, error)
	StuckBills(ctx context.Context, stuckAfter time.Duration, now time.Time, limit int) ([]StuckBill, error)
}

type statsServiceImpl struct {
	billRepo  port.BillRepository
	auditRepo port.AuditRepository
	logger    Logger
}

// NewStatsService creates a new StatsService
func NewStatsService(billRepo port.BillRepository, auditRepo port.AuditRepository, logger Logger) StatsService {
	return &statsServiceImpl{
		billRepo:  billRepo,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// Stats aggregates counts, durations and stuck bills
func (s *statsServiceImpl) Stats(ctx context.Context, stuckAfter time.Duration, now time.Time) (*Stats, error) {
	counts, err := s.billRepo.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	if counts == nil {
		counts = make(map[string]int64)
	}
	for _, st := range workflow.AllStates() {
		if _, ok := counts[st.String()]; !ok {
			counts[st.String()] = 0
		}
	}

	durations, err := s.auditRepo.DurationStatsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("duration stats: %w", err)
	}

	stuck, err := s.StuckBills(ctx, stuckAfter, now, DefaultStuckLimit)
	if err != nil {
		return nil, err
	}

	return &Stats{
		CountsByState:    counts,
		DurationsByState: durations,
		StuckBills:       stuck,
		StuckAfterHours:  stuckAfter.Hours(),
		GeneratedAt:      now,
	}, nil
}

// StuckBills lists non-terminal bills idle for longer than stuckAfter, oldest first
func (s *statsServiceImpl) StuckBills(ctx context.Context, stuckAfter time.Duration, now time.Time, limit int) ([]StuckBill, error) {
	if stuckAfter <= 0 {
		return nil, fmt.Errorf("%w: stuckAfter must be positive", workflow.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultStuckLimit
	}

	bills, err := s.billRepo.ListStuck(ctx, now.Add(-stuckAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck bills: %w", err)
	}

	out := make([]StuckBill, 0, len(bills))
	for _, b := range bills {
		out = append(out, StuckBill{
			BillID:       b.ID,
			SerialNo:     b.SerialNo,
			CurrentState: b.WorkflowState.CurrentState,
			CurrentCount: b.CurrentCount,
			LastUpdated:  b.WorkflowState.LastUpdated,
			IdleHours:    now.Sub(b.WorkflowState.LastUpdated).Hours(),
		})
	}
	return out, nil
}
