// Package rbac defines team roles and the per-request role cache.
package rbac

type Role string

const (
	RoleNone   Role = ""
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// AtLeast reports whether role satisfies the minimum required role.
// Admin implies member.
func AtLeast(role, minimum Role) bool {
	switch minimum {
	case RoleMember:
		return role == RoleMember || role == RoleAdmin
	case RoleAdmin:
		return role == RoleAdmin
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleNone
	}
}

func Valid(role string) bool {
	return Normalize(role) != RoleNone
}
