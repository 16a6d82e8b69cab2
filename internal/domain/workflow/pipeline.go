package workflow

import (
	"fmt"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
)

// Remarks fields written by the reject edge
const (
	RemarksSite     = "siteRemarks"
	RemarksQS       = "qsRemarks"
	RemarksFinance  = "financeRemarks"
	RemarksAccounts = "accountsRemarks"
)

// rejectRemarks selects the remarks field for the state a bill is rejected from
var rejectRemarks = map[State]string{
	StateSiteOfficer:        RemarksSite,
	StateQSMumbai:           RemarksQS,
	StatePIMOMumbai:         RemarksFinance,
	StateTrustees:           RemarksFinance,
	StateAccountsDepartment: RemarksAccounts,
}

// arrivalStages is the stage record stamped when a bill lands on a backbone count
var arrivalStages = map[int]entity.StageKey{
	StageFinanceIntake: entity.StagePIMOMumbai,
	StageSurveyOffice:  entity.StageQSMumbai,
	StageFinanceVerify: entity.StagePIMOVerification,
	StageCommittee:     entity.StageApproval,
	StageFinanceReturn: entity.StagePIMOReturn,
	StageAccounts:      entity.StageAccountsDept,
	StagePayment:       entity.StagePayment,
}

// ArrivalStage returns the stage record stamped on arrival at count
func ArrivalStage(count int) (entity.StageKey, bool) {
	k, ok := arrivalStages[count]
	return k, ok
}

// DefaultTable is the bill approval pipeline
var DefaultTable = NewBillTable()

// NewBillTable builds the bill approval pipeline table
func NewBillTable() *Table {
	b := NewTableBuilder()

	// Stage 1: site verification siblings
	b.Configure(RoleSiteOfficer, RoleQualityInspector).
		Permit(ActionForward, sibling(StageSite, entity.StageQualityInspector, "Quality Inspector",
			notNature(entity.NatureService, "Quality Inspector")))
	b.Configure(RoleSiteOfficer, RoleQSMeasurement).
		Permit(ActionForward, sibling(StageSite, entity.StageQSInspection, "QS Measurement", nil))
	b.Configure(RoleSiteOfficer, RoleQSCOP).
		Permit(ActionForward, sibling(StageSite, entity.StageQSCOP, "QS COP", nil,
			requires(entity.StageQSInspection, "QS measurement")))
	b.Configure(RoleSiteOfficer, RoleMIGOEntry).
		Permit(ActionForward, sibling(StageSite, entity.StageMIGO, "MIGO Entry", nil))
	b.Configure(RoleSiteOfficer, RoleSiteEngineer).
		Permit(ActionForward, sibling(StageSite, entity.StageSiteEngineer, "Site Engineer", nil,
			requires(entity.StageQSInspection, "QS measurement"),
			requires(entity.StageQSCOP, "QS COP")))
	b.Configure(RoleSiteOfficer, RoleArchitect).
		Permit(ActionForward, sibling(StageSite, entity.StageArchitect, "Architect",
			notNature(entity.NatureMaterial, "Architect")))
	b.Configure(RoleSiteOfficer, RoleSiteIncharge).
		Permit(ActionForward, sibling(StageSite, entity.StageSiteIncharge, "Site Incharge", nil))
	b.Configure(RoleSiteOfficer, RoleSiteDispatchTeam).
		Permit(ActionForward, sibling(StageSite, entity.StageSiteDispatch, "Site Dispatch Team", nil,
			siteClearance))

	// Backbone
	b.Configure(RoleSiteDispatchTeam, RolePIMOMumbai).
		Permit(ActionForward, advance(StageSite, StageFinanceIntake, "PIMO Mumbai",
			requires(entity.StageSiteDispatch, "site dispatch")))
	b.Configure(RolePIMOMumbai, RoleQSMumbai).
		Permit(ActionForward, advance(StageFinanceIntake, StageSurveyOffice, "QS Mumbai")).
		Permit(ActionBackward, retreat(StageFinanceVerify, StageSurveyOffice))
	b.Configure(RoleQSMumbai, RolePIMOMumbai).
		Permit(ActionForward, advance(StageSurveyOffice, StageFinanceVerify, "PIMO Mumbai verification")).
		Permit(ActionBackward, retreat(StageSurveyOffice, StageFinanceIntake))

	// Stage 4 siblings
	b.Configure(RolePIMOMumbai, RoleITDepartment).
		Permit(ActionForward, sibling(StageFinanceVerify, entity.StageITDept, "IT Department", nil))
	b.Configure(RolePIMOMumbai, RoleSESTeam).
		Permit(ActionForward, sibling(StageFinanceVerify, entity.StageSES, "SES Team", nil,
			requires(entity.StageITDept, "IT department")))
	b.Configure(RolePIMOMumbai, RolePIMODispatchTeam).
		Permit(ActionForward, sibling(StageFinanceVerify, entity.StagePIMODispatch, "PIMO Dispatch Team", nil))

	b.Configure(RolePIMOMumbai, RoleTrustees).
		Permit(ActionForward, advance(StageFinanceVerify, StageCommittee, "Trustees",
			requires(entity.StageSES, "SES"),
			requires(entity.StageITDept, "IT department"))).
		Permit(ActionBackward, retreat(StageFinanceReturn, StageCommittee))
	b.Configure(RoleTrustees, RolePIMOMumbai).
		Permit(ActionForward, advance(StageCommittee, StageFinanceReturn, "PIMO Mumbai return")).
		Permit(ActionBackward, retreat(StageCommittee, StageFinanceVerify))
	b.Configure(RolePIMOMumbai, RoleAccountsDepartment).
		Permit(ActionForward, advance(StageFinanceReturn, StageAccounts, "Accounts Department"))
	b.Configure(RolePIMOMumbai, RoleSiteOfficer).
		Permit(ActionBackward, retreat(StageFinanceIntake, StageSite))

	// Stage 7
	b.Configure(RoleAccountsDepartment, RoleAccountsBooking).
		Permit(ActionForward, sibling(StageAccounts, entity.StageBooking, "Accounts Booking", nil))
	b.Configure(RoleAccountsDepartment, RoleAccountsPayment).
		Permit(ActionForward, advance(StageAccounts, StagePayment, "Accounts Payment",
			requires(entity.StageBooking, "booking")))
	b.Configure(RoleAccountsDepartment, RolePIMOMumbai).
		Permit(ActionBackward, retreat(StageAccounts, StageFinanceReturn))

	b.ConfigureClass(ActionReject, Edge{
		Description: "reject from any open state",
		Effect:      rejectEffect,
	})
	b.ConfigureClass(ActionRecover, Edge{
		Description: "recover a rejected bill to a chosen state",
		Effect:      recoverEffect,
	})

	return b.Build()
}

// sibling builds a same-stage edge that stamps its own stage record once.
// natureGuard may be nil; prereqs run after the duplicate check.
func sibling(stage int, key entity.StageKey, label string, natureGuard GuardFunc, prereqs ...GuardFunc) Edge {
	guards := make([]GuardFunc, 0, len(prereqs)+2)
	if natureGuard != nil {
		guards = append(guards, natureGuard)
	}
	guards = append(guards, notStamped(key, label))
	guards = append(guards, prereqs...)
	return Edge{
		Description:  "forward to " + label,
		SourceCounts: []int{stage},
		Guards:       guards,
		Effect: func(m *Mutator) error {
			m.Stamp(key, m.Request().ToName, false)
			return nil
		},
	}
}

// advance builds a stage-advancing forward edge that stamps the arrival record
func advance(from, to int, label string, guards ...GuardFunc) Edge {
	key := arrivalStages[to]
	return Edge{
		Description:  "forward to " + label,
		SourceCounts: []int{from},
		TargetCount:  to,
		Guards:       guards,
		Effect: func(m *Mutator) error {
			m.Stamp(key, m.Request().ToName, true)
			return nil
		},
	}
}

// retreat builds a backward edge. Stage data is kept and prerequisites are not re-checked.
func retreat(from, to int) Edge {
	return Edge{
		Description:  fmt.Sprintf("send back from stage %d to %d", from, to),
		SourceCounts: []int{from},
		TargetCount:  to,
	}
}

func notNature(nature, label string) GuardFunc {
	return func(bill *entity.Bill) error {
		if bill.NatureOfWork == nature {
			return guardf("%s bill cannot be forwarded to %s", nature, label)
		}
		return nil
	}
}

func notStamped(key entity.StageKey, label string) GuardFunc {
	return func(bill *entity.Bill) error {
		if bill.StageGiven(key) {
			return guardf("already forwarded to %s", label)
		}
		return nil
	}
}

func requires(key entity.StageKey, label string) GuardFunc {
	return func(bill *entity.Bill) error {
		if !bill.StageGiven(key) {
			return guardf("%s must be completed first", label)
		}
		return nil
	}
}

// siteClearance requires every sibling that applies to the bill's nature of work
func siteClearance(bill *entity.Bill) error {
	type prereq struct {
		key   entity.StageKey
		label string
		skip  string
	}
	prereqs := []prereq{
		{entity.StageQualityInspector, "quality inspection", entity.NatureService},
		{entity.StageQSInspection, "QS measurement", ""},
		{entity.StageQSCOP, "QS COP", ""},
		{entity.StageMIGO, "MIGO entry", entity.NatureService},
		{entity.StageSiteEngineer, "site engineer", ""},
		{entity.StageArchitect, "architect review", entity.NatureMaterial},
		{entity.StageSiteIncharge, "site incharge", ""},
	}
	for _, p := range prereqs {
		if p.skip != "" && bill.NatureOfWork == p.skip {
			continue
		}
		if !bill.StageGiven(p.key) {
			return guardf("%s must be completed before site dispatch", p.label)
		}
	}
	return nil
}

func rejectEffect(m *Mutator) error {
	from := m.FromState()
	field, ok := rejectRemarks[from]
	if !ok {
		return guardf("bill cannot be rejected from %s", from)
	}

	m.NextState = StateRejected
	m.SetStatus(entity.StatusReject)
	if from == StateSiteOfficer {
		m.SetSiteStatus(entity.StatusReject)
	}
	if remark := m.Request().Comments; remark != "" {
		if err := m.AppendRemark(field, remark); err != nil {
			return err
		}
	}
	return nil
}

func recoverEffect(m *Mutator) error {
	target := m.Request().TargetState
	if !target.IsValid() || target.IsTerminal() {
		return fmt.Errorf("%w: recover target %q must be an open state", ErrInvalidInput, target)
	}

	bill := m.Bill()
	count := bill.CurrentCount
	last, ok := LastNonRejected(bill)
	if !ok || last.State != target.String() {
		count = recoverCount(target, bill.MaxCount)
	}
	if _, ok := StateForStage(count); !ok {
		return fmt.Errorf("%w: no stage for %s", ErrInvariant, target)
	}

	m.NextState = target
	m.NextCount = count
	m.SetStatus(entity.StatusAccept)
	m.SetSiteStatus(entity.StatusAccept)
	if key, ok := arrivalStages[count]; ok {
		m.Stamp(key, m.Request().ToName, true)
	}
	return nil
}

// recoverCount picks the highest count carrying the label that the bill has
// already reached, or the lowest one when it never got that far.
func recoverCount(target State, maxCount int) int {
	counts := StagesForState(target)
	if len(counts) == 0 {
		return 0
	}
	best := counts[0]
	for _, c := range counts {
		if c <= maxCount {
			best = c
		}
	}
	return best
}
