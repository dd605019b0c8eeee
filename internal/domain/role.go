package domain

// Role is the access level carried by an API token.
type Role string

// Roles, in increasing order of privilege.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleLevel = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	_, ok := roleLevel[r]
	return ok
}

// HasPermission reports whether r grants at least the privileges of min.
func (r Role) HasPermission(min Role) bool {
	level, ok := roleLevel[r]
	return ok && level >= roleLevel[min]
}
