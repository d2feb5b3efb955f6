// zmforum/models/roles.go
package models

// Role is a total order for privilege purposes: every authorization check in
// this codebase is a threshold comparison, never a per-action ACL.
type Role int

const (
	RolePlayer Role = iota
	RoleModerator
	RoleAdmin
	RoleOwner
)

// ParseRole maps a role string from the identity provider onto the order.
// Unknown strings degrade to player, the least-privileged role.
func ParseRole(s string) Role {
	switch s {
	case "moderator":
		return RoleModerator
	case "admin":
		return RoleAdmin
	case "owner":
		return RoleOwner
	default:
		return RolePlayer
	}
}

func (r Role) String() string {
	switch r {
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "player"
	}
}

// AtLeast reports whether r carries at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// Principal is the authenticated caller as asserted by the external identity
// provider's bearer credential. The core only reads UserID and Role for
// authorization; Nickname and SteamID are denormalized onto content and
// notifications for display.
type Principal struct {
	UserID   string
	Nickname string
	SteamID  string
	Role     Role
}
