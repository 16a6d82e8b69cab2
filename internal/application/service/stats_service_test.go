package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/bill-workflow/internal/application/dispatcher"
	"github.com/garyjia/bill-workflow/internal/domain/entity"
	"github.com/garyjia/bill-workflow/internal/domain/event"
	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// mockDispatcherBase is a no-op dispatcher for embedding
type mockDispatcherBase struct{}

func (mockDispatcherBase) Subscribe(event.Type, dispatcher.Handler) {}
func (mockDispatcherBase) SubscribeNamed(event.Type, string, dispatcher.Handler) {}
func (mockDispatcherBase) SubscribeAll(string, dispatcher.Handler) {}
func (mockDispatcherBase) Unsubscribe(event.Type, string) {}
func (mockDispatcherBase) Dispatch(context.Context, *event.Event) error { return nil }
func (mockDispatcherBase) DispatchAsync(context.Context, *event.Event) {}
func (mockDispatcherBase) ListHandlers(event.Type) []dispatcher.HandlerInfo { return nil }
func (mockDispatcherBase) Close() error { return nil }

func TestStatsService_Stats(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	bills := newMockBillRepo()
	bills.counts = map[string]int64{"Site_Officer": 4, "Trustees": 1}
	bills.stuck = []*entity.Bill{
		{
			ID:            "b1",
			SerialNo:      "262700001",
			CurrentCount:  5,
			WorkflowState: entity.WorkflowState{CurrentState: "Trustees", LastUpdated: now.Add(-96 * time.Hour)},
		},
	}
	audits := &mockAuditRepo{stats: []entity.StateDurationStats{
		{State: "PIMO_Mumbai", Count: 3, AvgHours: 10, MinHours: 2, MaxHours: 20},
	}}

	svc := NewStatsService(bills, audits, mockLogger{})
	stats, err := svc.Stats(context.Background(), 72*time.Hour, now)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.CountsByState["Site_Officer"])
	assert.Equal(t, int64(0), stats.CountsByState["Completed"])
	assert.Len(t, stats.CountsByState, len(workflow.AllStates()))
	assert.Equal(t, audits.stats, stats.DurationsByState)
	assert.Equal(t, 72.0, stats.StuckAfterHours)

	require.Len(t, stats.StuckBills, 1)
	assert.Equal(t, "b1", stats.StuckBills[0].BillID)
	assert.Equal(t, 96.0, stats.StuckBills[0].IdleHours)
	assert.Equal(t, now.Add(-72*time.Hour), bills.stuckSince)
}

func TestStatsService_EmptyStore(t *testing.T) {
	svc := NewStatsService(newMockBillRepo(), &mockAuditRepo{}, mockLogger{})
	stats, err := svc.Stats(context.Background(), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Len(t, stats.CountsByState, len(workflow.AllStates()))
	assert.Empty(t, stats.StuckBills)
}

func TestStatsService_StuckBillsRequiresThreshold(t *testing.T) {
	svc := NewStatsService(newMockBillRepo(), &mockAuditRepo{}, mockLogger{})
	_, err := svc.StuckBills(context.Background(), 0, time.Now(), 10)
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
}
