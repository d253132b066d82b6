package auth

import (
	"slices"
	"strings"
)

// Permission names a resource and an action, "resource:action".
type Permission = string

const (
	PermUsersRead      Permission = "users:read"
	PermUsersWrite     Permission = "users:write"
	PermSuppliersRead  Permission = "suppliers:read"
	PermSuppliersWrite Permission = "suppliers:write"
	PermPricesRead     Permission = "prices:read"
	PermPricesWrite    Permission = "prices:write"
	PermFinancingRead  Permission = "financing:read"
	PermFinancingWrite Permission = "financing:write"
	PermSettingsRead   Permission = "settings:read"
	PermSettingsWrite  Permission = "settings:write"
	PermAnalyticsRead  Permission = "analytics:read"
	PermReportsExport  Permission = "reports:export"
)

// rolePermissions is the static permission table. Roles that are not listed
// hold no permissions.
var rolePermissions = map[UserRole][]Permission{
	RoleAdmin: {
		PermUsersRead, PermUsersWrite,
		PermSuppliersRead, PermSuppliersWrite,
		PermPricesRead, PermPricesWrite,
		PermFinancingRead, PermFinancingWrite,
		PermSettingsRead, PermSettingsWrite,
		PermAnalyticsRead,
		PermReportsExport,
	},
	RoleUser: {
		PermSuppliersRead,
		PermPricesRead,
		PermFinancingRead,
		PermAnalyticsRead,
		PermSettingsRead,
	},
}

// CheckPermission reports whether role grants permission. Unknown roles
// return false.
func CheckPermission(role UserRole, permission Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	return slices.Contains(perms, permission)
}

// IsAdmin checks if the role is admin
func IsAdmin(role UserRole) bool {
	return role == RoleAdmin
}

// Permissions returns a copy of the permission set for role.
func Permissions(role UserRole) []Permission {
	return slices.Clone(rolePermissions[role])
}

// IsValidRole checks if the role is one of the predefined profile roles
func IsValidRole(role string) bool {
	switch UserRole(role) {
	case RoleUser, RoleAdmin, RoleSupplier, RoleAgent:
		return true
	default:
		return false
	}
}

// NormalizeRole constrains a role taken from untrusted metadata to the
// predefined set, defaulting to RoleUser.
func NormalizeRole(role string) UserRole {
	r := UserRole(strings.ToLower(strings.TrimSpace(role)))
	if IsValidRole(r) {
		return r
	}
	return RoleUser
}

// SessionRole maps a stored profile role onto the roles a published user can
// carry. Admin stays admin; every other role acts as RoleUser.
func SessionRole(role string) UserRole {
	if NormalizeRole(role) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleUser,
		RoleAdmin,
		RoleSupplier,
		RoleAgent,
	}
}
