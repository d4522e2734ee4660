// Package permission maps staff roles to capabilities. The gate is a pure
// function of role and service with no state; the state machine consults it
// before every mutating operation.
package permission

// Role identifies a staff role in the external user directory.
// Construct via ParseRole at trust boundaries to enforce the allowlist;
// direct casting bypasses validation.
type Role string

const (
	RoleCaseWorker      Role = "case_worker"
	RoleOutreachWorker  Role = "outreach_worker"
	RoleCounselor       Role = "counselor"
	RoleClinician       Role = "clinician"
	RoleClinicalOfficer Role = "clinical_officer"
	RoleProgramManager  Role = "program_manager"
	RoleAdmin           Role = "admin"
	RoleViewer          Role = "viewer"
)

// validRoles is the single source of truth for recognized roles.
var validRoles = map[Role]bool{
	RoleCaseWorker:      true,
	RoleOutreachWorker:  true,
	RoleCounselor:       true,
	RoleClinician:       true,
	RoleClinicalOfficer: true,
	RoleProgramManager:  true,
	RoleAdmin:           true,
	RoleViewer:          true,
}

// ParseRole validates a role string. Unknown roles parse to "" and false.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if !validRoles[r] {
		return "", false
	}
	return r, true
}

func (r Role) String() string {
	return string(r)
}

// Gate answers capability questions for the referral workflow. All methods are
// pure; an unknown role has no capabilities.
type Gate struct{}

// NewGate constructs the role-to-capability gate.
func NewGate() *Gate {
	return &Gate{}
}

// CanEdit reports whether the role may create or modify referrals, record
// follow-ups, and change non-terminal statuses.
func (g *Gate) CanEdit(role Role) bool {
	switch role {
	case RoleCaseWorker, RoleOutreachWorker, RoleCounselor,
		RoleClinician, RoleClinicalOfficer, RoleProgramManager, RoleAdmin:
		return true
	}
	return false
}

// CanLink reports whether the role may confirm linkage to care. Restricted to
// clinical and managerial roles: linkage is the verified terminal outcome and
// carries reporting weight.
func (g *Gate) CanLink(role Role) bool {
	switch role {
	case RoleClinician, RoleClinicalOfficer, RoleProgramManager, RoleAdmin:
		return true
	}
	return false
}

// CanDelete reports whether the role may delete referrals.
func (g *Gate) CanDelete(role Role) bool {
	return role == RoleAdmin
}

// AssignableRoles returns the roles a referral for the given service may be
// assigned to. Consulted at creation time only; assignments are not
// re-validated when the directory changes.
func (g *Gate) AssignableRoles(service string) []Role {
	switch service {
	case "PrEP", "ART", "TB":
		return []Role{RoleClinician, RoleClinicalOfficer, RoleCaseWorker}
	case "Mental Health":
		return []Role{RoleCounselor, RoleClinician}
	case "GBV":
		return []Role{RoleCounselor, RoleCaseWorker}
	case "Legal":
		return []Role{RoleCaseWorker, RoleProgramManager}
	default:
		return []Role{
			RoleCaseWorker, RoleOutreachWorker, RoleCounselor,
			RoleClinician, RoleClinicalOfficer, RoleProgramManager,
		}
	}
}
