package auth

import "slices"

// Role is the authorisation tier carried in a token.
type Role string

// Roles, lowest first.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Permission represents a named capability of the control API.
type Permission string

// Permission constants.
const (
	PermStatusRead        Permission = "status:read"
	PermEventsRead        Permission = "events:read"
	PermMastershipOperate Permission = "mastership:operate"
	PermHostAck           Permission = "host:ack"
	PermCleanup           Permission = "system:cleanup"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStatusRead,
		PermEventsRead,
	},
	RoleOperator: {
		PermStatusRead,
		PermEventsRead,
		PermMastershipOperate,
	},
	RoleAdmin: {
		PermStatusRead,
		PermEventsRead,
		PermMastershipOperate,
		PermHostAck,
		PermCleanup,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
