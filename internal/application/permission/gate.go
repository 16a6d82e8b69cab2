package permission

import (
	"errors"
	"fmt"

	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// PermissionError explains a denial. It unwraps to workflow.ErrRoleNotPermitted or workflow.ErrWrongStep.
type PermissionError struct {
	Role   workflow.Role
	Action workflow.Action
	Count  int
	Err    error
}

func (e *PermissionError) Error() string {
	if errors.Is(e.Err, workflow.ErrRoleNotPermitted) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: role %s cannot %s a bill at stage %d", e.Err, e.Role, e.Action, e.Count)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Gate decides whether a caller may act on a bill at its current stage
type Gate struct {
	policy *Policy
	admins map[workflow.Role]bool
}

// NewGate creates a gate over a validated policy
func NewGate(policy *Policy) (*Gate, error) {
	if policy == nil {
		return nil, fmt.Errorf("policy is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	admins := make(map[workflow.Role]bool, len(policy.AdminRoles))
	for _, r := range policy.AdminRoles {
		admins[workflow.NormalizeRole(r)] = true
	}
	return &Gate{policy: policy, admins: admins}, nil
}

// Policy returns the policy the gate enforces
func (g *Gate) Policy() *Policy {
	return g.policy
}

// IsAdmin reports whether any of the roles is administrative
func (g *Gate) IsAdmin(roles []string) bool {
	for _, r := range roles {
		if g.admins[workflow.NormalizeRole(r)] {
			return true
		}
	}
	return false
}

// ActingRole returns the primary role of the set, the same one the transition
// table looks edges up by. ok is false when the policy does not know it.
func (g *Gate) ActingRole(roles []string) (workflow.Role, bool) {
	role := workflow.PrimaryRole(roles)
	if role == "" || len(g.policy.StepsFor(role)) == 0 {
		return role, false
	}
	return role, true
}

// Participates reports whether the caller may take part in the workflow at all.
// Used to refuse a whole request before any bill is loaded.
func (g *Gate) Participates(roles []string) error {
	if g.IsAdmin(roles) {
		return nil
	}
	if _, ok := g.ActingRole(roles); !ok {
		return &PermissionError{Err: workflow.ErrRoleNotPermitted}
	}
	return nil
}

// Authorize checks the caller's roles against the bill's current stage.
// Backward moves are checked against the receiving role, which must act at the stage below.
func (g *Gate) Authorize(roles []string, action workflow.Action, currentCount int, toRoles []string) error {
	if g.IsAdmin(roles) {
		return nil
	}
	acting, ok := g.ActingRole(roles)
	if !ok {
		return &PermissionError{Action: action, Count: currentCount, Err: workflow.ErrRoleNotPermitted}
	}

	switch action {
	case workflow.ActionForward, workflow.ActionReject, workflow.ActionRecover:
		if hasStep(g.policy.StepsFor(acting), currentCount) {
			return nil
		}
	case workflow.ActionBackward:
		if receiving, ok := g.ActingRole(toRoles); ok && hasStep(g.policy.StepsFor(receiving), currentCount-1) {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown action %q", workflow.ErrInvalidInput, action)
	}
	return &PermissionError{Role: acting, Action: action, Count: currentCount, Err: workflow.ErrWrongStep}
}

func hasStep(steps []int, count int) bool {
	for _, s := range steps {
		if s == count {
			return true
		}
	}
	return false
}
