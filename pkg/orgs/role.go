package orgs

import (
	"fmt"
	"strings"
)

// Role is a member's privilege level within one organization. Roles are
// ordered: RoleMember < RoleAdmin < RoleOwner.
type Role int

const (
	// roleUnknown is the zero value and never granted.
	roleUnknown Role = iota
	RoleMember
	RoleAdmin
	RoleOwner
)

// Roles lists every valid role in ascending order.
var Roles = []Role{RoleMember, RoleAdmin, RoleOwner}

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	return r >= RoleMember && r <= RoleOwner
}

// ParseRole converts the stored/wire form of a role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember, nil
	case "admin":
		return RoleAdmin, nil
	case "owner":
		return RoleOwner, nil
	default:
		return roleUnknown, fmt.Errorf("invalid role %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// CanManageOrganization reports whether role may edit organization metadata.
func CanManageOrganization(role Role) bool {
	return role == RoleOwner || role == RoleAdmin
}

// CanDeleteOrganization reports whether role may delete the organization.
func CanDeleteOrganization(role Role) bool {
	return role == RoleOwner
}

// CanManageMembers reports whether role may invite new members.
func CanManageMembers(role Role) bool {
	return role == RoleOwner || role == RoleAdmin
}

// CanChangeRoleTo reports whether acting may assign newRole to someone.
// Members change nothing, nobody grants above their own rank, and only
// owners touch the owner role.
func CanChangeRoleTo(acting, newRole Role) bool {
	if !acting.Valid() || !newRole.Valid() {
		return false
	}
	if acting == RoleMember {
		return false
	}
	if newRole == RoleOwner {
		return acting == RoleOwner
	}
	return newRole <= acting
}

// CanRemoveMember reports whether acting may remove (or otherwise modify)
// a member currently holding target.
func CanRemoveMember(acting, target Role) bool {
	if !acting.Valid() || !target.Valid() {
		return false
	}
	switch acting {
	case RoleOwner:
		return true
	case RoleAdmin:
		return target == RoleMember
	default:
		return false
	}
}
