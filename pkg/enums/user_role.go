package enums

import (
	"fmt"
	"strings"
)

// UserRole is the library-wide role carried by every identity.
type UserRole string

const (
	UserRoleLibrarian UserRole = "librarian"
	UserRoleMember    UserRole = "member"
)

var validUserRoles = []UserRole{
	UserRoleLibrarian,
	UserRoleMember,
}

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known UserRole.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseUserRole converts raw input into a UserRole. Matching is case-insensitive
// so tokens minted as "Librarian" still resolve.
func ParseUserRole(value string) (UserRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validUserRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
