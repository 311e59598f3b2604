package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func TestService_Create(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateUserRequest
		wantErr apperrors.Kind
		ok      bool
	}{
		{"valid", CreateUserRequest{Username: "alice", Email: "Alice@Example.com"}, 0, true},
		{"empty name", CreateUserRequest{Username: "  ", Email: "a@example.com"}, apperrors.KindValidation, false},
		{"bad email", CreateUserRequest{Username: "alice", Email: "not-an-email"}, apperrors.KindValidation, false},
		{"missing email", CreateUserRequest{Username: "alice"}, apperrors.KindValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(NewMemoryStore())
			user, err := svc.Create(context.Background(), tt.req)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", user.Email)
			assert.Positive(t, user.ID)
		})
	}
}

func TestService_Create_DuplicateEmail(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateUserRequest{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateUserRequest{Username: "other", Email: "ALICE@example.com"})
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
}

func TestService_GetUpdateDelete(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	alice, err := svc.Create(ctx, CreateUserRequest{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateUserRequest{Username: "bob", Email: "bob@example.com"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = svc.Get(ctx, 999)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	updated, err := svc.Update(ctx, alice.ID, UpdateUserRequest{Username: strPtr("alicia")})
	require.NoError(t, err)
	assert.Equal(t, "alicia", updated.Username)
	assert.Equal(t, "alice@example.com", updated.Email)

	unchanged, err := svc.Update(ctx, alice.ID, UpdateUserRequest{})
	require.NoError(t, err)
	assert.Equal(t, "alicia", unchanged.Username)

	_, err = svc.Update(ctx, alice.ID, UpdateUserRequest{Username: strPtr("")})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = svc.Update(ctx, alice.ID, UpdateUserRequest{Email: strPtr("bob@example.com")})
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))

	_, err = svc.Update(ctx, 999, UpdateUserRequest{Username: strPtr("ghost")})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	require.NoError(t, svc.Delete(ctx, alice.ID))
	assert.True(t, apperrors.Is(svc.Delete(ctx, alice.ID), apperrors.KindNotFound))
}

func TestService_List(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := svc.Create(ctx, CreateUserRequest{Username: name, Email: name + "@example.com"})
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Username)

	page, err := svc.List(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Username)

	empty, err := svc.List(ctx, ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestDirectory_ResolveUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice, err := store.Create(ctx, CreateUserRequest{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	dir := NewDirectory(store)

	tests := []struct {
		name    string
		ref     orgs.UserRef
		want    int64
		wantErr apperrors.Kind
	}{
		{"by id", orgs.UserRef{ID: int64Ptr(alice.ID)}, alice.ID, 0},
		{"by email", orgs.UserRef{Email: "ALICE@example.com"}, alice.ID, 0},
		{"id wins over email", orgs.UserRef{ID: int64Ptr(alice.ID), Email: "nobody@example.com"}, alice.ID, 0},
		{"unknown id", orgs.UserRef{ID: int64Ptr(404)}, 0, apperrors.KindNotFound},
		{"unknown email", orgs.UserRef{Email: "nobody@example.com"}, 0, apperrors.KindNotFound},
		{"empty ref", orgs.UserRef{}, 0, apperrors.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := dir.ResolveUser(ctx, tt.ref)
			if tt.want == 0 {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestDirectory_DecorateMembers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice, err := store.Create(ctx, CreateUserRequest{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	members := []*orgs.Membership{
		{UserID: alice.ID, Role: orgs.RoleOwner},
		{UserID: 404, Role: orgs.RoleMember},
	}

	dir := NewDirectory(store)
	require.NoError(t, dir.DecorateMembers(ctx, members))
	assert.Equal(t, "alice", members[0].Username)
	assert.Equal(t, "alice@example.com", members[0].Email)
	assert.Empty(t, members[1].Username)

	require.NoError(t, dir.DecorateMembers(ctx, nil))
}

func TestDirectory_WithMembershipService(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	owner, err := store.Create(ctx, CreateUserRequest{Username: "owner", Email: "owner@example.com"})
	require.NoError(t, err)
	invitee, err := store.Create(ctx, CreateUserRequest{Username: "invitee", Email: "invitee@example.com"})
	require.NoError(t, err)

	dir := NewDirectory(store)
	svc := orgs.NewService(orgs.NewMemoryStore(), orgs.ServiceConfig{Users: dir, Decorator: dir})

	_, err = svc.CreateOrganization(ctx, orgs.CreateOrganizationRequest{Name: "acme"}, owner.ID)
	require.NoError(t, err)

	member, err := svc.AddMember(ctx, "acme", orgs.AddMemberRequest{Email: "invitee@example.com", Role: orgs.RoleMember}, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, invitee.ID, member.UserID)

	members, err := svc.ListMembers(ctx, "acme", &owner.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		assert.NotEmpty(t, m.Username)
	}
}

func TestService_Delete_ReleasesMemberships(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dir := NewDirectory(store)
	orgService := orgs.NewService(orgs.NewMemoryStore(), orgs.ServiceConfig{Users: dir, Decorator: dir})
	svc := NewService(store).WithMemberships(orgService)

	create := func(name string) *User {
		t.Helper()
		user, err := store.Create(ctx, CreateUserRequest{Username: name, Email: name + "@example.com"})
		require.NoError(t, err)
		return user
	}
	founder, partner, member := create("founder"), create("partner"), create("member")

	_, err := orgService.CreateOrganization(ctx, orgs.CreateOrganizationRequest{Name: "acme"}, founder.ID)
	require.NoError(t, err)
	_, err = orgService.CreateOrganization(ctx, orgs.CreateOrganizationRequest{Name: "globex"}, partner.ID)
	require.NoError(t, err)
	_, err = orgService.AddMember(ctx, "acme", orgs.AddMemberRequest{UserID: &member.ID, Role: orgs.RoleMember}, founder.ID)
	require.NoError(t, err)
	_, err = orgService.AddMember(ctx, "globex", orgs.AddMemberRequest{UserID: &founder.ID, Role: orgs.RoleAdmin}, partner.ID)
	require.NoError(t, err)

	memberIDs := func(org string, viewer int64) []int64 {
		t.Helper()
		members, err := orgService.ListMembers(ctx, org, &viewer)
		require.NoError(t, err)
		ids := make([]int64, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.UserID)
		}
		return ids
	}

	t.Run("last owner is refused and nothing changes", func(t *testing.T) {
		err := svc.Delete(ctx, founder.ID)
		assert.True(t, apperrors.Is(err, apperrors.KindConflict), "got %v", err)
		assert.Contains(t, err.Error(), `"acme"`)

		_, err = svc.Get(ctx, founder.ID)
		require.NoError(t, err)
		assert.Contains(t, memberIDs("acme", founder.ID), founder.ID)
		assert.Contains(t, memberIDs("globex", partner.ID), founder.ID, "memberships elsewhere are kept")
	})

	t.Run("plain member is removed everywhere", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, member.ID))

		_, err := svc.Get(ctx, member.ID)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
		assert.NotContains(t, memberIDs("acme", founder.ID), member.ID)

		memberOf, err := orgService.ListUserOrganizations(ctx, member.ID)
		require.NoError(t, err)
		assert.Empty(t, memberOf)
	})

	t.Run("owner with a co-owner can leave", func(t *testing.T) {
		_, err := orgService.AddMember(ctx, "acme", orgs.AddMemberRequest{UserID: &partner.ID, Role: orgs.RoleOwner}, founder.ID)
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, founder.ID))
		assert.Equal(t, []int64{partner.ID}, memberIDs("acme", partner.ID))
		assert.Equal(t, []int64{partner.ID}, memberIDs("globex", partner.ID))
	})

	t.Run("unknown user", func(t *testing.T) {
		err := svc.Delete(ctx, 9999)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	})
}
