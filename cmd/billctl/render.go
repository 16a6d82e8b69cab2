package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/garyjia/bill-workflow/internal/application/permission"
	"github.com/garyjia/bill-workflow/internal/application/service"
	"github.com/garyjia/bill-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/bill-workflow/internal/domain/workflow"
)

const timeLayout = "2006-01-02 15:04"

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

func renderHistory(w io.Writer, h *workflow.BillHistory) {
	fmt.Fprintf(w, "Bill %s (%s) is in %s\n", h.BillID, h.SerialNo, h.CurrentState)

	tw := newTable(w, "History")
	tw.AppendHeader(table.Row{"#", "When", "State", "Action", "Actor", "Comments"})
	for i, e := range h.History {
		tw.AppendRow(table.Row{i + 1, e.Timestamp.UTC().Format(timeLayout), e.State, e.Action, e.Actor, e.Comments})
	}
	tw.Render()

	tw = newTable(w, "Time in state")
	tw.AppendHeader(table.Row{"State", "From", "To", "Hours"})
	for _, s := range h.Segments {
		to := "now"
		if s.To != nil {
			to = s.To.UTC().Format(timeLayout)
		}
		tw.AppendRow(table.Row{s.State, s.From.UTC().Format(timeLayout), to, hours(s.Hours)})
	}
	tw.Render()
}

func renderStats(w io.Writer, s *service.Stats) {
	tw := newTable(w, "Bills by state")
	tw.AppendHeader(table.Row{"State", "Bills"})
	var total int64
	for _, st := range domainwf.AllStates() {
		n := s.CountsByState[st.String()]
		total += n
		tw.AppendRow(table.Row{st.String(), n})
	}
	tw.AppendFooter(table.Row{"Total", total})
	tw.Render()

	tw = newTable(w, "Hours per state")
	tw.AppendHeader(table.Row{"State", "Moves", "Avg", "Min", "Max"})
	for _, d := range s.DurationsByState {
		tw.AppendRow(table.Row{d.State, d.Count, hours(d.AvgHours), hours(d.MinHours), hours(d.MaxHours)})
	}
	tw.Render()

	tw = newTable(w, fmt.Sprintf("Stuck bills (idle > %s)", time.Duration(s.StuckAfterHours*float64(time.Hour))))
	tw.AppendHeader(table.Row{"Bill", "Serial", "State", "Count", "Last updated", "Idle hours"})
	for _, b := range s.StuckBills {
		tw.AppendRow(table.Row{b.BillID, b.SerialNo, b.CurrentState, b.CurrentCount, b.LastUpdated.UTC().Format(timeLayout), hours(b.IdleHours)})
	}
	tw.Render()
}

func renderBatch(w io.Writer, res *workflow.BatchResult) {
	tw := newTable(w, fmt.Sprintf("%d moved, %d failed", res.SuccessCount, res.FailedCount))
	tw.AppendHeader(table.Row{"Bill", "Result", "State", "Count", "Detail"})
	for _, s := range res.Successful {
		tw.AppendRow(table.Row{s.BillID, "ok", s.Workflow.CurrentState, s.Workflow.CurrentCount, s.SerialNo})
	}
	for _, f := range res.Failed {
		tw.AppendRow(table.Row{f.BillID, f.Code, "", "", f.Message})
	}
	tw.Render()
}

func renderPolicy(w io.Writer, p *permission.Policy) {
	fmt.Fprintf(w, "Policy version %d, admin roles: %s\n", p.Version, strings.Join(p.AdminRoles, ", "))

	roles := make([]string, 0, len(p.Steps))
	for role := range p.Steps {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	tw := newTable(w, "Steps")
	tw.AppendHeader(table.Row{"Role", "Stages"})
	for _, role := range roles {
		steps := make([]string, 0, len(p.Steps[role]))
		for _, s := range p.Steps[role] {
			steps = append(steps, fmt.Sprint(s))
		}
		tw.AppendRow(table.Row{role, strings.Join(steps, ", ")})
	}
	tw.Render()
}

func hours(h float64) string {
	return fmt.Sprintf("%.1f", h)
}
