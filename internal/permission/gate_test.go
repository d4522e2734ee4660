package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	for _, valid := range []string{
		"case_worker", "outreach_worker", "counselor", "clinician",
		"clinical_officer", "program_manager", "admin", "viewer",
	} {
		role, ok := ParseRole(valid)
		assert.True(t, ok, valid)
		assert.Equal(t, valid, role.String())
	}

	for _, invalid := range []string{"", "superuser", "Admin", "case worker"} {
		_, ok := ParseRole(invalid)
		assert.False(t, ok, invalid)
	}
}

func TestGateCapabilities(t *testing.T) {
	g := NewGate()

	cases := []struct {
		role      Role
		canEdit   bool
		canLink   bool
		canDelete bool
	}{
		{RoleCaseWorker, true, false, false},
		{RoleOutreachWorker, true, false, false},
		{RoleCounselor, true, false, false},
		{RoleClinician, true, true, false},
		{RoleClinicalOfficer, true, true, false},
		{RoleProgramManager, true, true, false},
		{RoleAdmin, true, true, true},
		{RoleViewer, false, false, false},
		{Role("unknown"), false, false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			assert.Equal(t, tc.canEdit, g.CanEdit(tc.role), "CanEdit")
			assert.Equal(t, tc.canLink, g.CanLink(tc.role), "CanLink")
			assert.Equal(t, tc.canDelete, g.CanDelete(tc.role), "CanDelete")
		})
	}
}

func TestAssignableRoles(t *testing.T) {
	g := NewGate()

	assert.Contains(t, g.AssignableRoles("PrEP"), RoleClinician)
	assert.NotContains(t, g.AssignableRoles("PrEP"), RoleOutreachWorker)

	assert.Contains(t, g.AssignableRoles("Mental Health"), RoleCounselor)
	assert.NotContains(t, g.AssignableRoles("Mental Health"), RoleCaseWorker)

	assert.Contains(t, g.AssignableRoles("GBV"), RoleCaseWorker)
	assert.Contains(t, g.AssignableRoles("Legal"), RoleProgramManager)

	// Unknown services fall back to the broad staff set.
	assert.Contains(t, g.AssignableRoles("Other"), RoleOutreachWorker)
	assert.NotContains(t, g.AssignableRoles("Other"), RoleViewer)
}
