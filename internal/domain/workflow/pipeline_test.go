package workflow

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
)

var baseTime = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newTestBill(nature string) *entity.Bill {
	bill := &entity.Bill{ID: "bill-1", SerialNo: "262700001", VendorName: "Acme", NatureOfWork: nature}
	Start(bill, "site officer", baseTime)
	return bill
}

// billAt returns a bill resting on count with a consistent ledger
func billAt(count int) *entity.Bill {
	bill := newTestBill(entity.NatureWorks)
	state, _ := StateForStage(count)
	bill.CurrentCount = count
	bill.MaxCount = count
	bill.WorkflowState.CurrentState = state.String()
	AppendHistory(bill, entity.HistoryEntry{
		State:     state.String(),
		Timestamp: baseTime.Add(time.Minute),
		Actor:     "setup",
		Action:    string(HistoryForward),
	})
	return bill
}

func forward(bill *entity.Bill, from, to Role, at time.Duration) (*Result, error) {
	return DefaultTable.Decide(Request{
		FromRoles: []string{from.String()},
		ToRoles:   []string{to.String()},
		Action:    ActionForward,
		Bill:      bill,
		ActorName: "actor",
		ToName:    "receiver",
		Now:       baseTime.Add(at),
	})
}

func mustForward(t *testing.T, bill *entity.Bill, from, to Role, at time.Duration) *entity.Bill {
	t.Helper()
	res, err := forward(bill, from, to, at)
	return mustDecide(t, res, err)
}

func mustDecide(t *testing.T, res *Result, err error) *entity.Bill {
	t.Helper()
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if err := CheckInvariants(res.Bill); err != nil {
		t.Fatalf("CheckInvariants() error = %v", err)
	}
	return res.Bill
}

func TestDecide_ServiceBillToQualityInspector(t *testing.T) {
	bill := newTestBill(entity.NatureService)

	_, err := forward(bill, RoleSiteOfficer, RoleQualityInspector, time.Hour)
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected ErrGuardViolation, got %v", err)
	}
	if err.Error() != "Service bill cannot be forwarded to Quality Inspector" {
		t.Errorf("reason = %q", err.Error())
	}
	if bill.CurrentCount != 1 {
		t.Errorf("currentCount = %d, want 1", bill.CurrentCount)
	}
	if bill.StageGiven(entity.StageQualityInspector) {
		t.Error("stage must not be stamped on a refused edge")
	}
}

func TestDecide_MaterialBillToArchitect(t *testing.T) {
	bill := newTestBill(entity.NatureMaterial)

	_, err := forward(bill, RoleSiteOfficer, RoleArchitect, time.Hour)
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected ErrGuardViolation, got %v", err)
	}
	if !strings.Contains(err.Error(), "Material bill cannot be forwarded to Architect") {
		t.Errorf("reason = %q", err.Error())
	}
}

func TestDecide_SiteEngineerAfterMeasurementAndCOP(t *testing.T) {
	bill := newTestBill(entity.NatureWorks)
	bill = mustForward(t, bill, RoleSiteOfficer, RoleQSMeasurement, time.Hour)
	bill = mustForward(t, bill, RoleSiteOfficer, RoleQSCOP, 2*time.Hour)

	before := len(bill.WorkflowState.History)
	res, err := forward(bill, RoleSiteOfficer, RoleSiteEngineer, 3*time.Hour)
	got := mustDecide(t, res, err)

	rec := got.Stage(entity.StageSiteEngineer)
	if rec == nil || rec.DateGiven == nil || !rec.DateGiven.Equal(baseTime.Add(3*time.Hour)) {
		t.Fatalf("siteEngineer not stamped at now: %+v", rec)
	}
	if rec.Name != "receiver" {
		t.Errorf("siteEngineer name = %q", rec.Name)
	}
	if got.CurrentCount != 1 || got.WorkflowState.CurrentState != StateSiteOfficer.String() {
		t.Errorf("sibling moved the bill: count=%d state=%s", got.CurrentCount, got.WorkflowState.CurrentState)
	}
	if len(got.WorkflowState.History) != before+1 {
		t.Errorf("history len = %d, want %d", len(got.WorkflowState.History), before+1)
	}
	if !got.WorkflowState.LastUpdated.Equal(baseTime.Add(3 * time.Hour)) {
		t.Errorf("lastUpdated not refreshed by sibling")
	}
}

func TestDecide_SiteEngineerRequiresCOP(t *testing.T) {
	bill := newTestBill(entity.NatureWorks)
	bill = mustForward(t, bill, RoleSiteOfficer, RoleQSMeasurement, time.Hour)

	_, err := forward(bill, RoleSiteOfficer, RoleSiteEngineer, 2*time.Hour)
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected ErrGuardViolation, got %v", err)
	}
}

func TestDecide_PIMOToQSMumbai(t *testing.T) {
	bill := billAt(StageFinanceIntake)
	before := len(bill.WorkflowState.History)

	res, err := forward(bill, RolePIMOMumbai, RoleQSMumbai, time.Hour)
	got := mustDecide(t, res, err)

	if got.CurrentCount != 3 {
		t.Errorf("currentCount = %d, want 3", got.CurrentCount)
	}
	if got.MaxCount != 3 {
		t.Errorf("maxCount = %d, want 3", got.MaxCount)
	}
	if len(got.WorkflowState.History) != before+1 {
		t.Fatalf("history len = %d, want %d", len(got.WorkflowState.History), before+1)
	}
	last := got.WorkflowState.History[len(got.WorkflowState.History)-1]
	if last.Action != "forward" || last.State != StateQSMumbai.String() {
		t.Errorf("last entry = %+v", last)
	}
	rec := got.Stage(entity.StageQSMumbai)
	if rec == nil || rec.DateReceived == nil {
		t.Errorf("arrival record not stamped with dateReceived: %+v", rec)
	}
}

func TestDecide_RecoverToPIMOMumbai(t *testing.T) {
	bill := billAt(StageFinanceVerify)
	rejected := mustDecideReject(t, bill, time.Hour)

	res, err := DefaultTable.Decide(Request{
		Action:      ActionRecover,
		Bill:        rejected,
		ActorName:   "admin",
		TargetState: StatePIMOMumbai,
		Now:         baseTime.Add(2 * time.Hour),
	})
	got := mustDecide(t, res, err)

	if got.WorkflowState.CurrentState != StatePIMOMumbai.String() {
		t.Errorf("state = %s", got.WorkflowState.CurrentState)
	}
	if got.Status != entity.StatusAccept {
		t.Errorf("status = %s", got.Status)
	}
	if got.CurrentCount != StageFinanceVerify {
		t.Errorf("currentCount = %d, want %d", got.CurrentCount, StageFinanceVerify)
	}
	last := got.WorkflowState.History[len(got.WorkflowState.History)-1]
	if last.State != "PIMO_Mumbai" || last.Action != "backward" {
		t.Errorf("last entry = %+v", last)
	}
}

func mustDecideReject(t *testing.T, bill *entity.Bill, at time.Duration) *entity.Bill {
	t.Helper()
	res, err := DefaultTable.Decide(Request{
		Action:    ActionReject,
		Bill:      bill,
		ActorName: "reviewer",
		Comments:  "missing documents",
		Now:       baseTime.Add(at),
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	return res.Bill
}

func TestDecide_RejectRecoverRoundTrip(t *testing.T) {
	for count := StageSite; count < StagePayment; count++ {
		state, _ := StateForStage(count)
		t.Run(state.String(), func(t *testing.T) {
			bill := billAt(count)
			before := append([]entity.HistoryEntry(nil), bill.WorkflowState.History...)

			rejected := mustDecideReject(t, bill, time.Hour)
			if rejected.WorkflowState.CurrentState != StateRejected.String() {
				t.Fatalf("state = %s, want Rejected", rejected.WorkflowState.CurrentState)
			}
			if rejected.CurrentCount != count {
				t.Errorf("reject changed currentCount to %d", rejected.CurrentCount)
			}

			res, err := DefaultTable.Decide(Request{
				Action:      ActionRecover,
				Bill:        rejected,
				TargetState: state,
				Now:         baseTime.Add(2 * time.Hour),
			})
			got := mustDecide(t, res, err)

			if got.WorkflowState.CurrentState != state.String() || got.Status != entity.StatusAccept {
				t.Errorf("after recover: state=%s status=%s", got.WorkflowState.CurrentState, got.Status)
			}
			if got.CurrentCount != count {
				t.Errorf("after recover: currentCount=%d, want %d", got.CurrentCount, count)
			}
			appended := got.WorkflowState.History[len(before):]
			if len(appended) != 2 || appended[0].Action != "reject" || appended[1].Action != "backward" {
				t.Errorf("appended entries = %+v", appended)
			}
			if !reflect.DeepEqual(got.WorkflowState.History[:len(before)], before) {
				t.Error("prior history entries changed")
			}
		})
	}
}

func TestDecide_RejectRemarksField(t *testing.T) {
	tests := []struct {
		count  int
		remark func(b *entity.Bill) string
		site   string
	}{
		{StageSite, func(b *entity.Bill) string { return b.SiteRemarks }, entity.StatusReject},
		{StageSurveyOffice, func(b *entity.Bill) string { return b.QSRemarks }, entity.StatusAccept},
		{StageFinanceIntake, func(b *entity.Bill) string { return b.FinanceRemarks }, entity.StatusAccept},
		{StageCommittee, func(b *entity.Bill) string { return b.FinanceRemarks }, entity.StatusAccept},
		{StageAccounts, func(b *entity.Bill) string { return b.AccountsRemarks }, entity.StatusAccept},
	}

	for _, tt := range tests {
		state, _ := StateForStage(tt.count)
		t.Run(state.String(), func(t *testing.T) {
			got := mustDecideReject(t, billAt(tt.count), time.Hour)
			if tt.remark(got) != "missing documents" {
				t.Errorf("remark not written to the %s field", state)
			}
			if got.Status != entity.StatusReject {
				t.Errorf("status = %s", got.Status)
			}
			if got.SiteStatus != tt.site {
				t.Errorf("siteStatus = %s, want %s", got.SiteStatus, tt.site)
			}
		})
	}
}

func TestDecide_RemarksAreConcatenated(t *testing.T) {
	bill := billAt(StageSite)
	bill.SiteRemarks = "first"

	got := mustDecideReject(t, bill, time.Hour)
	if got.SiteRemarks != "first\nmissing documents" {
		t.Errorf("siteRemarks = %q", got.SiteRemarks)
	}
}

func TestDecide_TerminalBills(t *testing.T) {
	rejected := mustDecideReject(t, billAt(StageFinanceIntake), time.Hour)

	_, err := forward(rejected, RolePIMOMumbai, RoleQSMumbai, 2*time.Hour)
	if !errors.Is(err, ErrTerminalState) {
		t.Errorf("forward on rejected: expected ErrTerminalState, got %v", err)
	}
	if _, err := DefaultTable.Decide(Request{Action: ActionReject, Bill: rejected, Now: baseTime}); !errors.Is(err, ErrTerminalState) {
		t.Errorf("reject on rejected: expected ErrTerminalState, got %v", err)
	}

	open := billAt(StageFinanceIntake)
	_, err = DefaultTable.Decide(Request{Action: ActionRecover, Bill: open, TargetState: StateSiteOfficer, Now: baseTime})
	if !errors.Is(err, ErrGuardViolation) {
		t.Errorf("recover on open bill: expected ErrGuardViolation, got %v", err)
	}
}

func TestDecide_RecoverTargetValidation(t *testing.T) {
	rejected := mustDecideReject(t, billAt(StageFinanceIntake), time.Hour)

	for _, target := range []State{"", StateCompleted, StateRejected, State("Directors")} {
		_, err := DefaultTable.Decide(Request{Action: ActionRecover, Bill: rejected, TargetState: target, Now: baseTime.Add(2 * time.Hour)})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("target %q: expected ErrInvalidInput, got %v", target, err)
		}
	}
}

func TestDecide_RecoverToOtherLabelUsesReachedStage(t *testing.T) {
	bill := billAt(StageFinanceReturn)
	rejected := mustDecideReject(t, bill, time.Hour)

	res, err := DefaultTable.Decide(Request{Action: ActionRecover, Bill: rejected, TargetState: StateQSMumbai, Now: baseTime.Add(2 * time.Hour)})
	got := mustDecide(t, res, err)
	if got.CurrentCount != StageSurveyOffice {
		t.Errorf("currentCount = %d, want %d", got.CurrentCount, StageSurveyOffice)
	}
	if got.MaxCount != StageFinanceReturn {
		t.Errorf("maxCount = %d, want %d", got.MaxCount, StageFinanceReturn)
	}
	if !got.StageGiven(entity.StageQSMumbai) {
		t.Error("arrival record not re-stamped")
	}

	rejected = mustDecideReject(t, billAt(StageFinanceIntake), time.Hour)
	res, err = DefaultTable.Decide(Request{Action: ActionRecover, Bill: rejected, TargetState: StateAccountsDepartment, Now: baseTime.Add(2 * time.Hour)})
	got = mustDecide(t, res, err)
	if got.CurrentCount != StageAccounts || got.MaxCount != StageAccounts {
		t.Errorf("count=%d max=%d, want %d", got.CurrentCount, got.MaxCount, StageAccounts)
	}
}

func TestDecide_DuplicateForwardIsRefused(t *testing.T) {
	bill := newTestBill(entity.NatureWorks)
	bill = mustForward(t, bill, RoleSiteOfficer, RoleMIGOEntry, time.Hour)

	_, err := forward(bill, RoleSiteOfficer, RoleMIGOEntry, 2*time.Hour)
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected ErrGuardViolation, got %v", err)
	}
	if !strings.Contains(err.Error(), "already forwarded") {
		t.Errorf("reason = %q", err.Error())
	}

	advanced := mustForward(t, billAt(StageFinanceIntake), RolePIMOMumbai, RoleQSMumbai, time.Hour)
	if _, err := forward(advanced, RolePIMOMumbai, RoleQSMumbai, 2*time.Hour); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("repeated backbone edge: expected ErrGuardViolation, got %v", err)
	}
}

func TestDecide_SiteDispatchPrerequisites(t *testing.T) {
	tests := []struct {
		name     string
		nature   string
		siblings []Role
		wantErr  bool
	}{
		{
			name:   "works needs every sibling",
			nature: entity.NatureWorks,
			siblings: []Role{RoleQualityInspector, RoleQSMeasurement, RoleQSCOP, RoleMIGOEntry,
				RoleSiteEngineer, RoleArchitect, RoleSiteIncharge},
		},
		{
			name:     "works missing architect",
			nature:   entity.NatureWorks,
			siblings: []Role{RoleQualityInspector, RoleQSMeasurement, RoleQSCOP, RoleMIGOEntry, RoleSiteEngineer, RoleSiteIncharge},
			wantErr:  true,
		},
		{
			name:     "service skips quality inspector and MIGO",
			nature:   entity.NatureService,
			siblings: []Role{RoleQSMeasurement, RoleQSCOP, RoleSiteEngineer, RoleArchitect, RoleSiteIncharge},
		},
		{
			name:   "material skips architect",
			nature: entity.NatureMaterial,
			siblings: []Role{RoleQualityInspector, RoleQSMeasurement, RoleQSCOP, RoleMIGOEntry,
				RoleSiteEngineer, RoleSiteIncharge},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bill := newTestBill(tt.nature)
			for i, to := range tt.siblings {
				bill = mustForward(t, bill, RoleSiteOfficer, to, time.Duration(i+1)*time.Minute)
			}
			_, err := forward(bill, RoleSiteOfficer, RoleSiteDispatchTeam, time.Hour)
			if (err != nil) != tt.wantErr {
				t.Errorf("Decide() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecide_FullPipeline(t *testing.T) {
	steps := []struct {
		from, to Role
		action   Action
		count    int
	}{
		{RoleSiteOfficer, RoleQualityInspector, ActionForward, 1},
		{RoleSiteOfficer, RoleQSMeasurement, ActionForward, 1},
		{RoleSiteOfficer, RoleQSCOP, ActionForward, 1},
		{RoleSiteOfficer, RoleMIGOEntry, ActionForward, 1},
		{RoleSiteOfficer, RoleSiteEngineer, ActionForward, 1},
		{RoleSiteOfficer, RoleArchitect, ActionForward, 1},
		{RoleSiteOfficer, RoleSiteIncharge, ActionForward, 1},
		{RoleSiteOfficer, RoleSiteDispatchTeam, ActionForward, 1},
		{RoleSiteDispatchTeam, RolePIMOMumbai, ActionForward, 2},
		{RolePIMOMumbai, RoleQSMumbai, ActionForward, 3},
		{RoleQSMumbai, RolePIMOMumbai, ActionBackward, 2},
		{RolePIMOMumbai, RoleQSMumbai, ActionForward, 3},
		{RoleQSMumbai, RolePIMOMumbai, ActionForward, 4},
		{RolePIMOMumbai, RoleITDepartment, ActionForward, 4},
		{RolePIMOMumbai, RoleSESTeam, ActionForward, 4},
		{RolePIMOMumbai, RolePIMODispatchTeam, ActionForward, 4},
		{RolePIMOMumbai, RoleTrustees, ActionForward, 5},
		{RoleTrustees, RolePIMOMumbai, ActionForward, 6},
		{RolePIMOMumbai, RoleTrustees, ActionBackward, 5},
		{RoleTrustees, RolePIMOMumbai, ActionForward, 6},
		{RolePIMOMumbai, RoleAccountsDepartment, ActionForward, 7},
		{RoleAccountsDepartment, RoleAccountsBooking, ActionForward, 7},
		{RoleAccountsDepartment, RoleAccountsPayment, ActionForward, 8},
	}

	bill := newTestBill(entity.NatureWorks)
	maxSeen := bill.MaxCount
	for i, s := range steps {
		prev := bill.WorkflowState.History
		res, err := DefaultTable.Decide(Request{
			FromRoles: []string{s.from.String()},
			ToRoles:   []string{s.to.String()},
			Action:    s.action,
			Bill:      bill,
			ActorName: "actor",
			ToName:    "receiver",
			Now:       baseTime.Add(time.Duration(i+1) * time.Hour),
		})
		if err != nil {
			t.Fatalf("step %d (%s -> %s %s): %v", i, s.from, s.to, s.action, err)
		}
		bill = res.Bill
		if bill.CurrentCount != s.count {
			t.Fatalf("step %d: currentCount = %d, want %d", i, bill.CurrentCount, s.count)
		}
		if bill.MaxCount < maxSeen {
			t.Fatalf("step %d: maxCount decreased from %d to %d", i, maxSeen, bill.MaxCount)
		}
		maxSeen = bill.MaxCount
		if !reflect.DeepEqual(bill.WorkflowState.History[:len(prev)], prev) {
			t.Fatalf("step %d: history rewritten", i)
		}
	}

	if bill.WorkflowState.CurrentState != StateCompleted.String() {
		t.Errorf("final state = %s", bill.WorkflowState.CurrentState)
	}
	if !bill.StageGiven(entity.StagePayment) {
		t.Error("payment not stamped")
	}
	if _, err := forward(bill, RoleAccountsDepartment, RoleAccountsPayment, 48*time.Hour); !errors.Is(err, ErrTerminalState) {
		t.Errorf("forward after completion: expected ErrTerminalState, got %v", err)
	}
}

func TestDecide_BackwardKeepsStageData(t *testing.T) {
	bill := billAt(StageCommittee)
	bill.MaxCount = StageCommittee
	stamped := baseTime
	bill.SetStage(entity.StageApproval, &entity.StageRecord{DateGiven: &stamped, Name: "trustee"})

	res, err := DefaultTable.Decide(Request{
		FromRoles: []string{"trustees"},
		ToRoles:   []string{"pimo_mumbai"},
		Action:    ActionBackward,
		Bill:      bill,
		Now:       baseTime.Add(time.Hour),
	})
	got := mustDecide(t, res, err)

	if got.CurrentCount != StageFinanceVerify || got.MaxCount != StageCommittee {
		t.Errorf("count=%d max=%d", got.CurrentCount, got.MaxCount)
	}
	if !got.StageGiven(entity.StageApproval) {
		t.Error("backward erased stage data")
	}
	if last := got.WorkflowState.History[len(got.WorkflowState.History)-1]; last.Action != "backward" {
		t.Errorf("last action = %s", last.Action)
	}
}

func TestDecide_FourWayBranchFromFinanceVerify(t *testing.T) {
	for _, to := range []Role{RoleTrustees, RoleITDepartment, RoleSESTeam, RolePIMODispatchTeam} {
		if _, ok := DefaultTable.Edge(Key{From: RolePIMOMumbai, To: to, Action: ActionForward}); !ok {
			t.Errorf("missing edge pimo_mumbai -> %s", to)
		}
	}

	_, err := forward(billAt(StageFinanceVerify), RolePIMOMumbai, RoleTrustees, time.Hour)
	if !errors.Is(err, ErrGuardViolation) {
		t.Errorf("trustees without SES and IT: expected ErrGuardViolation, got %v", err)
	}
}

func TestDecide_NormalizesRoles(t *testing.T) {
	bill := billAt(StageFinanceIntake)

	res, err := DefaultTable.Decide(Request{
		FromRoles: []string{" PIMO_Mumbai ", "admin"},
		ToRoles:   []string{"QS_MUMBAI"},
		Action:    ActionForward,
		Bill:      bill,
		Now:       baseTime.Add(time.Hour),
	})
	got := mustDecide(t, res, err)
	if got.CurrentCount != StageSurveyOffice {
		t.Errorf("currentCount = %d", got.CurrentCount)
	}
}

func TestDecide_DoesNotMutateInput(t *testing.T) {
	bill := billAt(StageFinanceIntake)
	snapshot := bill.Clone()

	if _, err := forward(bill, RolePIMOMumbai, RoleQSMumbai, time.Hour); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(bill, snapshot) {
		t.Error("Decide mutated the request bill")
	}
}

func TestDecide_UnknownEdge(t *testing.T) {
	_, err := forward(billAt(StageFinanceIntake), RoleQSMumbai, RoleTrustees, time.Hour)
	if !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected ErrGuardViolation, got %v", err)
	}

	_, err = DefaultTable.Decide(Request{Action: ActionForward, Bill: billAt(StageSite), Now: baseTime})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing roles: expected ErrInvalidInput, got %v", err)
	}
}
