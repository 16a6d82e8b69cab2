package workflow

import (
	"fmt"
	"time"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
)

// CreationComment is recorded on the first history entry of every bill
const CreationComment = "Bill created"

// Start places a new bill at the first stage and records its creation entry
func Start(bill *entity.Bill, actor string, now time.Time) {
	bill.CurrentCount = StageSite
	bill.MaxCount = StageSite
	bill.Status = entity.StatusAccept
	bill.SiteStatus = entity.StatusAccept
	bill.WorkflowState = entity.WorkflowState{CurrentState: StateSiteOfficer.String()}
	AppendHistory(bill, entity.HistoryEntry{
		State:     StateSiteOfficer.String(),
		Timestamp: now,
		Actor:     actor,
		Comments:  CreationComment,
		Action:    string(HistoryForward),
	})
}

// AppendHistory appends entry to the bill's ledger and stamps lastUpdated.
// Prior entries are never touched.
func AppendHistory(bill *entity.Bill, entry entity.HistoryEntry) {
	bill.WorkflowState.History = append(bill.WorkflowState.History, entry)
	bill.WorkflowState.LastUpdated = entry.Timestamp
}

// LastNonRejected returns the most recent history entry whose state is not Rejected
func LastNonRejected(bill *entity.Bill) (entity.HistoryEntry, bool) {
	h := bill.WorkflowState.History
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].State != StateRejected.String() {
			return h[i], true
		}
	}
	return entity.HistoryEntry{}, false
}

// CheckInvariants verifies the stage counters, state label, status and ledger ordering of a bill
func CheckInvariants(bill *entity.Bill) error {
	if bill == nil {
		return fmt.Errorf("%w: nil bill", ErrInvariant)
	}
	state, err := ParseState(bill.WorkflowState.CurrentState)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	if bill.CurrentCount < MinStage || bill.CurrentCount > MaxStage {
		return fmt.Errorf("%w: currentCount %d out of range", ErrInvariant, bill.CurrentCount)
	}
	if bill.CurrentCount > bill.MaxCount {
		return fmt.Errorf("%w: currentCount %d exceeds maxCount %d", ErrInvariant, bill.CurrentCount, bill.MaxCount)
	}
	if state == StateRejected && bill.Status != entity.StatusReject {
		return fmt.Errorf("%w: rejected bill has status %q", ErrInvariant, bill.Status)
	}

	h := bill.WorkflowState.History
	for i := 1; i < len(h); i++ {
		if h[i].Timestamp.Before(h[i-1].Timestamp) {
			return fmt.Errorf("%w: history entry %d precedes entry %d", ErrInvariant, i, i-1)
		}
	}
	if !state.IsTerminal() && len(h) > 0 && h[len(h)-1].State != state.String() {
		return fmt.Errorf("%w: last history state %q does not match %q", ErrInvariant, h[len(h)-1].State, state)
	}
	return nil
}
