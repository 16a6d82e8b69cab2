package workflow

import "fmt"

// Action is the kind of move requested on a bill
type Action string

const (
	ActionForward  Action = "forward"
	ActionBackward Action = "backward"
	ActionReject   Action = "reject"
	ActionRecover  Action = "recover"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true for the four supported actions
func (a Action) IsValid() bool {
	switch a {
	case ActionForward, ActionBackward, ActionReject, ActionRecover:
		return true
	default:
		return false
	}
}

// ParseAction validates a raw action string
func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if !a.IsValid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, raw)
	}
	return a, nil
}

// HistoryAction is the tag recorded on history entries.
// Recovery is recorded as a backward move.
type HistoryAction string

const (
	HistoryForward  HistoryAction = "forward"
	HistoryBackward HistoryAction = "backward"
	HistoryReject   HistoryAction = "reject"
)
