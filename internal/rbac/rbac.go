package rbac

// Role constants
const (
	RoleAnonymous = "anonymous"
	RoleMember    = "member" // signed in with a keyless account
	RoleAdmin     = "admin"
)

// Permission constants
const (
	PermTip            = "tip"
	PermCreateProfile  = "create_profile"
	PermReconcile      = "reconcile"
	PermRefreshFees    = "refresh_fees"
	PermInspectLedger  = "inspect_ledger"
	PermLedgerFundsTip = "ledger_funded_tip"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleAnonymous: {
		PermTip,
		// Anonymous CANNOT: PermLedgerFundsTip, there is no account to sign with
	},
	RoleMember: {
		PermTip, PermLedgerFundsTip, PermCreateProfile,
	},
	RoleAdmin: {
		PermTip, PermLedgerFundsTip, PermCreateProfile,
		PermReconcile, PermRefreshFees, PermInspectLedger,
	},
}

// RoleFor resolves the role of a caller from its account address.
func RoleFor(address string, isAdmin func(string) bool) string {
	switch {
	case address == "":
		return RoleAnonymous
	case isAdmin != nil && isAdmin(address):
		return RoleAdmin
	default:
		return RoleMember
	}
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsOperatorOperation reports permissions that act on platform state rather
// than the caller's own account.
func IsOperatorOperation(permission string) bool {
	return permission == PermReconcile || permission == PermRefreshFees || permission == PermInspectLedger
}
