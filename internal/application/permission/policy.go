package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/bill-workflow/internal/domain/workflow"
)

// Policy maps workflow roles onto the stages at which they may act
type Policy struct {
	Version    int              `yaml:"version" json:"version"`
	AdminRoles []string         `yaml:"admin_roles" json:"adminRoles"`
	Steps      map[string][]int `yaml:"steps" json:"steps"`
}

// Validate ensures the policy is usable by the gate
func (p *Policy) Validate() error {
	if p.Version < 1 {
		return fmt.Errorf("policy.version must be >= 1")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("policy.steps is required")
	}
	for role, steps := range p.Steps {
		if workflow.NormalizeRole(role).String() != role {
			return fmt.Errorf("policy role %q must be lower-case and trimmed", role)
		}
		if len(steps) == 0 {
			return fmt.Errorf("policy role %s has no steps", role)
		}
		for _, s := range steps {
			if s < workflow.MinStage || s > workflow.MaxStage {
				return fmt.Errorf("policy role %s has step %d outside %d..%d", role, s, workflow.MinStage, workflow.MaxStage)
			}
		}
	}
	for _, r := range p.AdminRoles {
		if r == "" {
			return fmt.Errorf("policy.admin_roles contains an empty role")
		}
	}
	return nil
}

// StepsFor returns the steps of a role, nil when the role is unknown
func (p *Policy) StepsFor(role workflow.Role) []int {
	return p.Steps[role.String()]
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() *Policy {
	var p Policy
	if err := yaml.Unmarshal([]byte(defaultPolicyYAML), &p); err != nil {
		panic(fmt.Sprintf("built-in policy: %v", err))
	}
	return &p
}

// FromYAML parses and validates a policy from raw YAML bytes
func FromYAML(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicy reads the policy file at path, or returns the built-in policy when path is empty
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return FromYAML(data)
}

// YAML renders the policy back to YAML
func (p *Policy) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}

const defaultPolicyYAML = `version: 1
admin_roles:
  - admin
steps:
  site_officer: [1]
  quality_inspector: [1]
  qs_measurement: [1]
  qs_cop: [1]
  migo_entry: [1]
  site_engineer: [1]
  architect: [1]
  site_incharge: [1]
  site_dispatch_team: [1]
  pimo_mumbai: [2, 4, 6]
  qs_mumbai: [3]
  it_department: [4]
  ses_team: [4]
  pimo_dispatch_team: [4]
  trustees: [5]
  accounts_department: [7]
  accounts_booking: [7]
  accounts_payment: [7]
`
