package domain

// Role is an access level for API callers.
type Role string

// Roles, ordered by privilege.
const (
	RoleService Role = "service"
	RoleAdmin   Role = "admin"
)

var roleRank = map[Role]int{
	RoleService: 1,
	RoleAdmin:   2,
}

// HasPermission reports whether r meets or exceeds the required role.
func (r Role) HasPermission(required Role) bool {
	return roleRank[r] >= roleRank[required]
}
