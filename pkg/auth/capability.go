package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// Capability names one privileged action.
type Capability string

const (
	CapabilityManageLoans   Capability = "manage_loans"
	CapabilityManageCatalog Capability = "manage_catalog"
	CapabilityManageFines   Capability = "manage_fines"
	CapabilityManageUsers   Capability = "manage_users"
	CapabilityViewDashboard Capability = "view_dashboard"
	CapabilityBorrow        Capability = "borrow"
)

var roleCapabilities = map[enums.UserRole][]Capability{
	enums.UserRoleLibrarian: {
		CapabilityManageLoans,
		CapabilityManageCatalog,
		CapabilityManageFines,
		CapabilityManageUsers,
		CapabilityViewDashboard,
		CapabilityBorrow,
	},
	enums.UserRoleMember: {
		CapabilityBorrow,
	},
}

// Can reports whether the role grants the capability.
func (a Actor) Can(c Capability) bool {
	for _, held := range roleCapabilities[a.Role] {
		if held == c {
			return true
		}
	}
	return false
}

// RequireCapability returns a forbidden error unless the actor holds c.
func RequireCapability(actor Actor, c Capability) error {
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Can(c) {
		return pkgerrors.Newf(pkgerrors.CodeForbidden, "role %q may not %s", actor.Role, c)
	}
	return nil
}
