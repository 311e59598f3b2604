package orgs

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"member", RoleMember, false},
		{"admin", RoleAdmin, false},
		{"owner", RoleOwner, false},
		{" Owner ", RoleOwner, false},
		{"superuser", roleUnknown, true},
		{"", roleUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Role Role `json:"role"`
	}{RoleAdmin})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"admin"}`, string(data))

	var decoded struct {
		Role Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"owner"}`), &decoded))
	assert.Equal(t, RoleOwner, decoded.Role)

	assert.Error(t, json.Unmarshal([]byte(`{"role":"root"}`), &decoded))

	_, err = json.Marshal(struct {
		Role Role `json:"role"`
	}{roleUnknown})
	assert.Error(t, err)
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleMember < RoleAdmin)
	assert.True(t, RoleAdmin < RoleOwner)
	assert.False(t, roleUnknown.Valid())
	assert.False(t, Role(42).Valid())
	for _, r := range Roles {
		assert.True(t, r.Valid(), r.String())
	}
}

func TestSingleRolePredicates(t *testing.T) {
	tests := []struct {
		role         Role
		manageOrg    bool
		deleteOrg    bool
		manageMember bool
	}{
		{RoleOwner, true, true, true},
		{RoleAdmin, true, false, true},
		{RoleMember, false, false, false},
		{roleUnknown, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			assert.Equal(t, tt.manageOrg, CanManageOrganization(tt.role))
			assert.Equal(t, tt.deleteOrg, CanDeleteOrganization(tt.role))
			assert.Equal(t, tt.manageMember, CanManageMembers(tt.role))
		})
	}
}

func TestCanChangeRoleTo_Matrix(t *testing.T) {
	// want[acting][newRole]
	want := map[Role]map[Role]bool{
		RoleOwner:  {RoleOwner: true, RoleAdmin: true, RoleMember: true},
		RoleAdmin:  {RoleOwner: false, RoleAdmin: true, RoleMember: true},
		RoleMember: {RoleOwner: false, RoleAdmin: false, RoleMember: false},
	}
	for _, acting := range Roles {
		for _, newRole := range Roles {
			t.Run(acting.String()+"->"+newRole.String(), func(t *testing.T) {
				assert.Equal(t, want[acting][newRole], CanChangeRoleTo(acting, newRole))
			})
		}
	}

	assert.False(t, CanChangeRoleTo(roleUnknown, RoleMember))
	assert.False(t, CanChangeRoleTo(RoleOwner, roleUnknown))
}

func TestCanRemoveMember_Matrix(t *testing.T) {
	// want[acting][target]
	want := map[Role]map[Role]bool{
		RoleOwner:  {RoleOwner: true, RoleAdmin: true, RoleMember: true},
		RoleAdmin:  {RoleOwner: false, RoleAdmin: false, RoleMember: true},
		RoleMember: {RoleOwner: false, RoleAdmin: false, RoleMember: false},
	}
	for _, acting := range Roles {
		for _, target := range Roles {
			t.Run(acting.String()+"-removes-"+target.String(), func(t *testing.T) {
				assert.Equal(t, want[acting][target], CanRemoveMember(acting, target))
			})
		}
	}

	assert.False(t, CanRemoveMember(Role(9), RoleMember))
	assert.False(t, CanRemoveMember(RoleOwner, Role(-1)))
}

func TestValidateOrganizationName(t *testing.T) {
	for _, ok := range []string{"acme", "a1", "my-org_2"} {
		assert.NoError(t, ValidateOrganizationName(ok), ok)
	}
	for _, bad := range []string{"", "a", "Acme", "-acme", "acme corp", strings.Repeat("a", 65)} {
		assert.Error(t, ValidateOrganizationName(bad), bad)
	}
}
