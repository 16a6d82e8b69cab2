package workflow

import (
	"fmt"
	"time"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
)

// Table is an immutable set of guarded edges keyed by role pair and action
type Table struct {
	edges map[Key]Edge
}

// Request is the input of a single-bill transition decision
type Request struct {
	FromRoles   []string
	ToRoles     []string
	Action      Action
	Bill        *entity.Bill
	ActorName   string
	ToName      string
	Comments    string
	TargetState State
	Now         time.Time
}

// Mutation records one field written by an edge effect
type Mutation struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// Result is the outcome of an accepted transition. Bill is a mutated copy;
// the bill passed in the request is never modified.
type Result struct {
	Edge      Key
	Bill      *entity.Bill
	FromState State
	FromCount int
	NextState State
	NextCount int
	Mutations []Mutation
	History   entity.HistoryEntry
}

// Decide evaluates the request against the table and, when legal, computes
// the mutated bill, its next state and stage.
func (t *Table) Decide(req Request) (*Result, error) {
	if req.Bill == nil {
		return nil, fmt.Errorf("%w: bill is required", ErrInvalidInput)
	}
	if !req.Action.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, req.Action)
	}
	current, err := ParseState(req.Bill.WorkflowState.CurrentState)
	if err != nil {
		return nil, err
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	key, edge, err := t.lookup(req, current)
	if err != nil {
		return nil, err
	}

	if len(edge.SourceCounts) > 0 && !containsCount(edge.SourceCounts, req.Bill.CurrentCount) {
		return nil, guardf("bill is at stage %d (%s); %s requires stage %s",
			req.Bill.CurrentCount, current, key, formatCounts(edge.SourceCounts))
	}

	for _, guard := range edge.Guards {
		if err := guard(req.Bill); err != nil {
			return nil, err
		}
	}

	m := newMutator(req, current, edge)
	if edge.Effect != nil {
		if err := edge.Effect(m); err != nil {
			return nil, err
		}
	}

	return m.finish(key), nil
}

// lookup resolves the edge for the request. Forward and backward edges are keyed by
// the primary roles; reject and recover are class edges.
func (t *Table) lookup(req Request, current State) (Key, Edge, error) {
	switch req.Action {
	case ActionReject:
		if current.IsTerminal() {
			return Key{}, Edge{}, fmt.Errorf("%w: bill is already %s", ErrTerminalState, current)
		}
	case ActionRecover:
		if current != StateRejected {
			return Key{}, Edge{}, guardf("only a Rejected bill can be recovered; bill is %s", current)
		}
	default:
		if current.IsTerminal() {
			return Key{}, Edge{}, fmt.Errorf("%w: bill is already %s", ErrTerminalState, current)
		}
	}

	if req.Action == ActionReject || req.Action == ActionRecover {
		key := Key{From: RoleAny, To: RoleAny, Action: req.Action}
		edge, ok := t.edges[key]
		if !ok {
			return Key{}, Edge{}, guardf("no %s edge configured", req.Action)
		}
		return key, edge, nil
	}

	key := Key{From: PrimaryRole(req.FromRoles), To: PrimaryRole(req.ToRoles), Action: req.Action}
	if key.From == "" || key.To == "" {
		return Key{}, Edge{}, fmt.Errorf("%w: from and to roles are required", ErrInvalidInput)
	}
	edge, ok := t.edges[key]
	if !ok {
		return Key{}, Edge{}, guardf("no %s transition from %s to %s", key.Action, key.From, key.To)
	}
	return key, edge, nil
}

// Mutator gives edge effects a recorded view over the bill copy
type Mutator struct {
	req       Request
	bill      *entity.Bill
	fromState State
	fromCount int

	NextCount     int
	NextState     State
	HistoryAction HistoryAction
	HistoryState  State

	mutations []Mutation
}

func newMutator(req Request, current State, edge Edge) *Mutator {
	m := &Mutator{
		req:       req,
		bill:      req.Bill.Clone(),
		fromState: current,
		fromCount: req.Bill.CurrentCount,
		NextCount: req.Bill.CurrentCount,
		NextState: current,
	}
	if edge.TargetCount != 0 {
		m.NextCount = edge.TargetCount
		m.NextState, _ = StateForStage(edge.TargetCount)
	}
	switch req.Action {
	case ActionBackward, ActionRecover:
		m.HistoryAction = HistoryBackward
	case ActionReject:
		m.HistoryAction = HistoryReject
	default:
		m.HistoryAction = HistoryForward
	}
	return m
}

// Bill returns the bill copy being mutated
func (m *Mutator) Bill() *entity.Bill { return m.bill }

// Request returns the originating request
func (m *Mutator) Request() Request { return m.req }

// FromState is the state the bill was in before this transition
func (m *Mutator) FromState() State { return m.fromState }

// Now is the transition timestamp
func (m *Mutator) Now() time.Time { return m.req.Now }

// Stamp writes the dateGiven/name of a stage record, and dateReceived when received is set
func (m *Mutator) Stamp(key entity.StageKey, name string, received bool) {
	now := m.req.Now
	rec := &entity.StageRecord{DateGiven: &now, Name: name}
	if received {
		r := now
		rec.DateReceived = &r
	}
	m.bill.SetStage(key, rec)
	m.record(string(key), rec)
}

// SetStatus sets the overall disposition
func (m *Mutator) SetStatus(status string) {
	m.bill.Status = status
	m.record("status", status)
}

// SetSiteStatus sets the site disposition
func (m *Mutator) SetSiteStatus(status string) {
	m.bill.SiteStatus = status
	m.record("siteStatus", status)
}

// AppendRemark concatenates a remark onto the named remarks field
func (m *Mutator) AppendRemark(field string, remark string) error {
	var target *string
	switch field {
	case RemarksSite:
		target = &m.bill.SiteRemarks
	case RemarksQS:
		target = &m.bill.QSRemarks
	case RemarksFinance:
		target = &m.bill.FinanceRemarks
	case RemarksAccounts:
		target = &m.bill.AccountsRemarks
	default:
		return fmt.Errorf("unknown remarks field %q", field)
	}
	if *target == "" {
		*target = remark
	} else {
		*target = *target + "\n" + remark
	}
	m.record(field, *target)
	return nil
}

func (m *Mutator) record(field string, value interface{}) {
	m.mutations = append(m.mutations, Mutation{Field: field, Value: value})
}

// finish writes counts, state, lastUpdated and the history entry
func (m *Mutator) finish(key Key) *Result {
	b := m.bill
	b.CurrentCount = m.NextCount
	if m.NextCount > b.MaxCount {
		b.MaxCount = m.NextCount
	}
	b.WorkflowState.CurrentState = m.NextState.String()

	histState := m.HistoryState
	if histState == "" {
		histState = m.NextState
	}
	entry := entity.HistoryEntry{
		State:     histState.String(),
		Timestamp: m.req.Now,
		Actor:     m.req.ActorName,
		Comments:  m.req.Comments,
		Action:    string(m.HistoryAction),
	}
	AppendHistory(b, entry)
	b.UpdatedAt = m.req.Now

	m.record("currentCount", b.CurrentCount)
	m.record("maxCount", b.MaxCount)
	m.record("workflowState.currentState", b.WorkflowState.CurrentState)

	return &Result{
		Edge:      key,
		Bill:      b,
		FromState: m.fromState,
		FromCount: m.fromCount,
		NextState: m.NextState,
		NextCount: m.NextCount,
		Mutations: m.mutations,
		History:   entry,
	}
}

func containsCount(counts []int, c int) bool {
	for _, v := range counts {
		if v == c {
			return true
		}
	}
	return false
}

func formatCounts(counts []int) string {
	if len(counts) == 1 {
		return fmt.Sprintf("%d", counts[0])
	}
	return fmt.Sprintf("%v", counts)
}

// Apply copies an accepted result onto bill, keeping the store-owned fields
// (id, version, createdAt) of the target.
func Apply(bill *entity.Bill, res *Result) {
	if bill == nil || res == nil || res.Bill == nil {
		return
	}
	id, version, created := bill.ID, bill.Version, bill.CreatedAt
	*bill = *res.Bill.Clone()
	bill.ID, bill.Version, bill.CreatedAt = id, version, created
}
