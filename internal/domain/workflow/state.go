package workflow

import "fmt"

// State represents a bill's position label in the approval pipeline
type State string

const (
	StateSiteOfficer        State = "Site_Officer"
	StatePIMOMumbai         State = "PIMO_Mumbai"
	StateQSMumbai           State = "QS_Mumbai"
	StateTrustees           State = "Trustees"
	StateAccountsDepartment State = "Accounts_Department"
	StateCompleted          State = "Completed"
	StateRejected           State = "Rejected"
)

// Stage counts of the linear backbone
const (
	StageSite          = 1
	StageFinanceIntake = 2
	StageSurveyOffice  = 3
	StageFinanceVerify = 4
	StageCommittee     = 5
	StageFinanceReturn = 6
	StageAccounts      = 7
	StagePayment       = 8
	MinStage           = StageSite
	MaxStage           = StagePayment
)

var validStates = map[State]bool{
	StateSiteOfficer:        true,
	StatePIMOMumbai:         true,
	StateQSMumbai:           true,
	StateTrustees:           true,
	StateAccountsDepartment: true,
	StateCompleted:          true,
	StateRejected:           true,
}

var terminalStates = map[State]bool{
	StateRejected:  true,
	StateCompleted: true,
}

// stageStates maps every backbone count to its state label.
// The regional finance office appears three times.
var stageStates = map[int]State{
	StageSite:          StateSiteOfficer,
	StageFinanceIntake: StatePIMOMumbai,
	StageSurveyOffice:  StateQSMumbai,
	StageFinanceVerify: StatePIMOMumbai,
	StageCommittee:     StateTrustees,
	StageFinanceReturn: StatePIMOMumbai,
	StageAccounts:      StateAccountsDepartment,
	StagePayment:       StateCompleted,
}

// IsTerminal returns true if the state is a terminal state (no further forward/backward moves)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a canonical workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// ParseState converts a raw string into a State, rejecting anything non-canonical
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
	}
	return s, nil
}

// StateForStage returns the state label of a backbone count
func StateForStage(count int) (State, bool) {
	s, ok := stageStates[count]
	return s, ok
}

// StagesForState returns the backbone counts carrying the given label in ascending order
func StagesForState(s State) []int {
	var counts []int
	for c := MinStage; c <= MaxStage; c++ {
		if stageStates[c] == s {
			counts = append(counts, c)
		}
	}
	return counts
}

// AllStates lists the canonical states in pipeline order
func AllStates() []State {
	return []State{
		StateSiteOfficer,
		StatePIMOMumbai,
		StateQSMumbai,
		StateTrustees,
		StateAccountsDepartment,
		StateCompleted,
		StateRejected,
	}
}
