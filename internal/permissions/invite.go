package permissions

import "github.com/rahulnair23/foyer/internal/models"

// inviteTable is the fixed directed permission table mapping an actor role to
// the set of roles it may invite. Roles never invite their own rank or above.
var inviteTable = map[models.Role][]models.Role{
	models.RoleSuperAdmin:  {models.RoleSiteAdmin, models.RoleOperator, models.RoleClientAdmin},
	models.RoleSiteAdmin:   {models.RoleOperator, models.RoleClientAdmin},
	models.RoleOperator:    {models.RoleClientAdmin},
	models.RoleClientAdmin: {models.RoleClientUser},
	models.RoleClientUser:  {},
}

// CanInvite reports whether an actor holding actorRole may invite a user at
// targetRole. Unknown or missing actor roles are unauthorized: the table is
// consulted fail-closed, never by falling through to a default.
func CanInvite(actorRole, targetRole models.Role) bool {
	allowed, ok := inviteTable[actorRole]
	if !ok {
		return false
	}
	for _, role := range allowed {
		if role == targetRole {
			return true
		}
	}
	return false
}

// CanManageInvites reports whether the role may list or revoke invitations
// issued across the platform.
func CanManageInvites(role models.Role) bool {
	return role == models.RoleSuperAdmin || role == models.RoleSiteAdmin
}
