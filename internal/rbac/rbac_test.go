package rbac

import "testing"

func TestRoleFor(t *testing.T) {
	isAdmin := func(a string) bool { return a == "0xad" }

	tests := []struct {
		addr string
		want string
	}{
		{"", RoleAnonymous},
		{"0xad", RoleAdmin},
		{"0xbb", RoleMember},
	}
	for _, tt := range tests {
		if got := RoleFor(tt.addr, isAdmin); got != tt.want {
			t.Errorf("RoleFor(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
	if got := RoleFor("0xad", nil); got != RoleMember {
		t.Errorf("RoleFor without admin list = %q", got)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role, perm string
		want       bool
	}{
		{RoleAnonymous, PermTip, true},
		{RoleAnonymous, PermLedgerFundsTip, false},
		{RoleAnonymous, PermCreateProfile, false},
		{RoleMember, PermCreateProfile, true},
		{RoleMember, PermReconcile, false},
		{RoleAdmin, PermReconcile, true},
		{RoleAdmin, PermInspectLedger, true},
		{"unknown", PermTip, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestOperatorOperations(t *testing.T) {
	for _, p := range RolePermissions[RoleAdmin] {
		if IsOperatorOperation(p) && HasPermission(RoleMember, p) {
			t.Errorf("member holds operator permission %q", p)
		}
	}
}
