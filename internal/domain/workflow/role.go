package workflow

import "strings"

// Role identifies a pipeline participant
type Role string

const (
	RoleAdmin              Role = "admin"
	RoleSiteOfficer        Role = "site_officer"
	RoleQualityInspector   Role = "quality_inspector"
	RoleQSMeasurement      Role = "qs_measurement"
	RoleQSCOP              Role = "qs_cop"
	RoleMIGOEntry          Role = "migo_entry"
	RoleSiteEngineer       Role = "site_engineer"
	RoleArchitect          Role = "architect"
	RoleSiteIncharge       Role = "site_incharge"
	RoleSiteDispatchTeam   Role = "site_dispatch_team"
	RolePIMOMumbai         Role = "pimo_mumbai"
	RoleQSMumbai           Role = "qs_mumbai"
	RoleITDepartment       Role = "it_department"
	RoleSESTeam            Role = "ses_team"
	RolePIMODispatchTeam   Role = "pimo_dispatch_team"
	RoleTrustees           Role = "trustees"
	RoleAccountsDepartment Role = "accounts_department"
	RoleAccountsBooking    Role = "accounts_booking"
	RoleAccountsPayment    Role = "accounts_payment"

	// RoleAny matches every role in class edges (reject, recover)
	RoleAny Role = "*"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// NormalizeRole lower-cases and trims a role name
func NormalizeRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}

// PrimaryRole picks the canonical role used for edge lookup: the first
// non-empty entry of the supplied set.
func PrimaryRole(roles []string) Role {
	for _, r := range roles {
		if n := NormalizeRole(r); n != "" {
			return n
		}
	}
	return ""
}

// NormalizeRoles normalizes every entry and drops empties, preserving order
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if n := NormalizeRole(r); n != "" {
			out = append(out, n.String())
		}
	}
	return out
}
