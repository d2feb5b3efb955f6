// zmforum/models/roles_test.go
package models

import "testing"

func TestParseRole(t *testing.T) {
	testCases := []struct {
		input string
		want  Role
	}{
		{"player", RolePlayer},
		{"moderator", RoleModerator},
		{"admin", RoleAdmin},
		{"owner", RoleOwner},
		{"", RolePlayer},
		{"superuser", RolePlayer},
	}

	for _, tc := range testCases {
		if got := ParseRole(tc.input); got != tc.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestRoleOrdering(t *testing.T) {
	if !RoleOwner.AtLeast(RoleAdmin) {
		t.Error("Expected owner to carry admin privileges")
	}
	if !RoleAdmin.AtLeast(RoleModerator) {
		t.Error("Expected admin to carry moderator privileges")
	}
	if RolePlayer.AtLeast(RoleModerator) {
		t.Error("Expected player to lack moderator privileges")
	}
	if !RoleModerator.AtLeast(RoleModerator) {
		t.Error("Expected a role to satisfy its own threshold")
	}
}

func TestRoleRoundTrip(t *testing.T) {
	for _, r := range []Role{RolePlayer, RoleModerator, RoleAdmin, RoleOwner} {
		if got := ParseRole(r.String()); got != r {
			t.Errorf("ParseRole(%q) = %v, want %v", r.String(), got, r)
		}
	}
}
