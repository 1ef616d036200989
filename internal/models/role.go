package models

import "fmt"

// Role is the privilege level of an account. The zero value is the least privileged.
type Role uint8

const (
	RoleViewer Role = iota
	RoleMember
	RoleManager
	RoleAdmin
)

var roleNames = [...]string{
	RoleViewer:  "viewer",
	RoleMember:  "member",
	RoleManager: "manager",
	RoleAdmin:   "admin",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid reports whether r is one of the declared roles
func (r Role) Valid() bool {
	return int(r) < len(roleNames)
}

// ParseRole maps a stored role name back to its Role
func ParseRole(name string) (Role, error) {
	for i, n := range roleNames {
		if n == name {
			return Role(i), nil
		}
	}
	return RoleViewer, fmt.Errorf("unknown role %q", name)
}

// AllowedRoles returns every role whose privileges are contained in r.
// A higher level always includes all lower levels.
func AllowedRoles(r Role) []Role {
	if !r.Valid() {
		return nil
	}
	out := make([]Role, 0, int(r)+1)
	for lvl := RoleViewer; lvl <= r; lvl++ {
		out = append(out, lvl)
	}
	return out
}

// Includes reports whether holding r grants the privileges of required
func (r Role) Includes(required Role) bool {
	return r.Valid() && required.Valid() && required <= r
}

// Permission constants for the task-management product
const (
	PermTasksRead      = "tasks.read"
	PermTasksWrite     = "tasks.write"
	PermProjectsRead   = "projects.read"
	PermProjectsManage = "projects.manage"
	PermAccountsManage = "accounts.manage"

	// Wildcard permission - grants everything (admin only)
	PermAll = "*"
)

// DefaultPermissions returns the permission set granted to a new account of the given role
func DefaultPermissions(r Role) []string {
	switch r {
	case RoleAdmin:
		return []string{PermAll}
	case RoleManager:
		return []string{PermTasksRead, PermTasksWrite, PermProjectsRead, PermProjectsManage}
	case RoleMember:
		return []string{PermTasksRead, PermTasksWrite, PermProjectsRead}
	default:
		return []string{PermTasksRead, PermProjectsRead}
	}
}

// HasPermission checks if a permission set contains a required permission.
// Handles wildcard "*" for admin access.
func HasPermission(perms []string, required string) bool {
	for _, p := range perms {
		if p == PermAll || p == required {
			return true
		}
	}
	return false
}
