package workflow

import (
	"context"
	"time"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// Segment is a stretch of time a bill spent in one state
type Segment struct {
	State string     `json:"state"`
	From  time.Time  `json:"from"`
	To    *time.Time `json:"to,omitempty"`
	Hours float64    `json:"hours"`
	Open  bool       `json:"open"`
}

// BillHistory is the ledger of a bill plus derived time-in-state figures
type BillHistory struct {
	BillID       string                `json:"billId"`
	SerialNo     string                `json:"serialNo"`
	CurrentState string                `json:"currentState"`
	History      []entity.HistoryEntry `json:"history"`
	Segments     []Segment             `json:"segments"`
	HoursByState map[string]float64    `json:"hoursByState"`
}

// History loads a bill and derives its time-in-state segments
func (o *orchestratorImpl) History(ctx context.Context, billID string) (*BillHistory, error) {
	bill, err := o.billRepo.GetByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	segments, hours := BuildSegments(bill.WorkflowState.History, bill.WorkflowState.CurrentState, o.now())
	return &BillHistory{
		BillID:       bill.ID,
		SerialNo:     bill.SerialNo,
		CurrentState: bill.WorkflowState.CurrentState,
		History:      bill.WorkflowState.History,
		Segments:     segments,
		HoursByState: hours,
	}, nil
}

// BuildSegments pairs consecutive history timestamps. The final segment stays open and
// is measured up to now, except on a Completed bill where it has no duration.
func BuildSegments(history []entity.HistoryEntry, currentState string, now time.Time) ([]Segment, map[string]float64) {
	segments := make([]Segment, 0, len(history))
	hours := make(map[string]float64)

	for i, entry := range history {
		seg := Segment{State: entry.State, From: entry.Timestamp}
		switch {
		case i+1 < len(history):
			end := history[i+1].Timestamp
			seg.To = &end
			seg.Hours = end.Sub(entry.Timestamp).Hours()
		case currentState == domainwf.StateCompleted.String():
			end := entry.Timestamp
			seg.To = &end
		default:
			seg.Open = true
			if now.After(entry.Timestamp) {
				seg.Hours = now.Sub(entry.Timestamp).Hours()
			}
		}
		segments = append(segments, seg)
		hours[entry.State] += seg.Hours
	}
	return segments, hours
}
