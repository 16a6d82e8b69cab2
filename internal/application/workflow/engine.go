package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domainwf "github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// Orchestrator applies workflow transitions to batches of bills
type Orchestrator interface {
	// BatchTransition moves every bill in the request independently.
	// Per-bill problems land in BatchResult.Failed. A malformed request returns ErrInvalidInput,
	// and a store failure on every bill returns ErrPersistence.
	BatchTransition(ctx context.Context, req BatchRequest) (*BatchResult, error)

	// History returns a bill's ledger with derived time-in-state figures
	History(ctx context.Context, billID string) (*BillHistory, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// UserInput identifies a participant of a batch request
type UserInput struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// UnmarshalJSON accepts the role set as "roles" or as "role", where "role"
// may be a single string or an array. Entries from "role" come first.
func (u *UserInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Role  json.RawMessage `json:"role"`
		Roles []string        `json:"roles"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var roles []string
	if r := bytes.TrimSpace(raw.Role); len(r) > 0 && !bytes.Equal(r, []byte("null")) {
		var one string
		if err := json.Unmarshal(r, &one); err == nil {
			roles = append(roles, one)
		} else if err := json.Unmarshal(r, &roles); err != nil {
			return fmt.Errorf("%w: role must be a string or an array of strings", domainwf.ErrInvalidInput)
		}
	}
	roles = append(roles, raw.Roles...)

	*u = UserInput{ID: raw.ID, Name: raw.Name, Roles: domainwf.NormalizeRoles(roles)}
	return nil
}

func (u UserInput) empty() bool {
	return strings.TrimSpace(u.ID) == "" && strings.TrimSpace(u.Name) == ""
}

// ObservedState is the optimistic concurrency token a client last saw for a bill
type ObservedState struct {
	CurrentCount int       `json:"currentCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// BatchRequest moves many bills with the same role pair and action
type BatchRequest struct {
	FromUser    UserInput                `json:"fromUser"`
	ToUser      UserInput                `json:"toUser"`
	BillIDs     []string                 `json:"billIds"`
	Action      string                   `json:"action"`
	Remarks     string                   `json:"remarks,omitempty"`
	TargetState string                   `json:"targetState,omitempty"`
	Observed    map[string]ObservedState `json:"observed,omitempty"`
}

// Validate rejects malformed requests before any bill is touched
func (r *BatchRequest) Validate() error {
	if len(r.BillIDs) == 0 {
		return fmt.Errorf("%w: billIds must not be empty", domainwf.ErrInvalidInput)
	}
	for i, id := range r.BillIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: billIds[%d] is empty", domainwf.ErrInvalidInput, i)
		}
	}
	action, err := domainwf.ParseAction(r.Action)
	if err != nil {
		return err
	}
	if r.FromUser.empty() {
		return fmt.Errorf("%w: fromUser is required", domainwf.ErrInvalidInput)
	}
	switch action {
	case domainwf.ActionForward, domainwf.ActionBackward:
		if r.ToUser.empty() {
			return fmt.Errorf("%w: toUser is required for %s", domainwf.ErrInvalidInput, action)
		}
	case domainwf.ActionRecover:
		if r.TargetState == "" {
			return fmt.Errorf("%w: targetState is required for recover", domainwf.ErrInvalidInput)
		}
		if _, err := domainwf.ParseState(r.TargetState); err != nil {
			return fmt.Errorf("%w: %v", domainwf.ErrInvalidInput, err)
		}
	}
	return nil
}

// WorkflowSummary is the workflow position of a bill after a transition
type WorkflowSummary struct {
	CurrentState string    `json:"currentState"`
	CurrentCount int       `json:"currentCount"`
	MaxCount     int       `json:"maxCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
	Version      int64     `json:"version"`
}

// Success describes a committed transition
type Success struct {
	BillID   string          `json:"billId"`
	SerialNo string          `json:"serialNo"`
	Workflow WorkflowSummary `json:"workflow"`
}

// Failure describes a bill that could not be moved
type Failure struct {
	BillID  string `json:"billId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult aggregates per-bill outcomes
type BatchResult struct {
	Successful   []Success `json:"successful"`
	Failed       []Failure `json:"failed"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
}
