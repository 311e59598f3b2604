package orgs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// MemoryStore is an in-process Store. Transactions are serialized and
// operate on a copy of the data that replaces the original on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryState struct {
	orgs         map[string]*Organization
	members      map[int64][]*Membership
	nextOrgID    int64
	nextMemberID int64
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			orgs:    make(map[string]*Organization),
			members: make(map[int64][]*Membership),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for timestamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) view() *memoryTx {
	return &memoryTx{state: s.state, now: s.now}
}

// InTx runs fn against a snapshot that is published only on success.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Store(err, "transaction aborted")
	}
	s.state = tx.state
	return nil
}

// CreateOrganization inserts a new organization
func (s *MemoryStore) CreateOrganization(ctx context.Context, org NewOrganization) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateOrganization(ctx, org)
}

// GetOrganization returns the organization or nil when absent
func (s *MemoryStore) GetOrganization(ctx context.Context, name string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetOrganization(ctx, name)
}

// LockOrganization returns the organization. The store lock serializes callers.
func (s *MemoryStore) LockOrganization(ctx context.Context, name string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().LockOrganization(ctx, name)
}

// UpdateOrganization applies a partial update
func (s *MemoryStore) UpdateOrganization(ctx context.Context, name string, patch OrganizationPatch) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateOrganization(ctx, name, patch)
}

// DeleteOrganization removes an organization and its memberships
func (s *MemoryStore) DeleteOrganization(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteOrganization(ctx, name)
}

// ListMembers returns the organization's members in join order
func (s *MemoryStore) ListMembers(ctx context.Context, orgID int64) ([]*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListMembers(ctx, orgID)
}

// ListUserOrganizations returns the organizations userID belongs to, by name
func (s *MemoryStore) ListUserOrganizations(ctx context.Context, userID int64) ([]*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListUserOrganizations(ctx, userID)
}

// GetRole reports userID's role in the organization
func (s *MemoryStore) GetRole(ctx context.Context, orgID, userID int64) (Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRole(ctx, orgID, userID)
}

// AddMember inserts a membership
func (s *MemoryStore) AddMember(ctx context.Context, m NewMembership) (*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().AddMember(ctx, m)
}

// UpdateMemberRole changes a member's role
func (s *MemoryStore) UpdateMemberRole(ctx context.Context, orgID, userID int64, role Role) (*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateMemberRole(ctx, orgID, userID, role)
}

// RemoveMember deletes a membership
func (s *MemoryStore) RemoveMember(ctx context.Context, orgID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().RemoveMember(ctx, orgID, userID)
}

// CountOwners returns the number of owners of the organization
func (s *MemoryStore) CountOwners(ctx context.Context, orgID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CountOwners(ctx, orgID)
}

// memoryTx operates on state without locking; the caller holds the lock.
type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memoryTx) CreateOrganization(ctx context.Context, org NewOrganization) (*Organization, error) {
	if _, exists := t.state.orgs[org.Name]; exists {
		return nil, apperrors.Conflictf("organization %q already exists", org.Name)
	}
	t.state.nextOrgID++
	now := t.now()
	created := &Organization{
		ID:          t.state.nextOrgID,
		Name:        org.Name,
		DisplayName: copyString(org.DisplayName),
		Description: copyString(org.Description),
		WebsiteURL:  copyString(org.WebsiteURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.state.orgs[org.Name] = created
	return copyOrganization(created), nil
}

func (t *memoryTx) GetOrganization(ctx context.Context, name string) (*Organization, error) {
	org, ok := t.state.orgs[name]
	if !ok {
		return nil, nil
	}
	return copyOrganization(org), nil
}

func (t *memoryTx) LockOrganization(ctx context.Context, name string) (*Organization, error) {
	return t.GetOrganization(ctx, name)
}

func (t *memoryTx) UpdateOrganization(ctx context.Context, name string, patch OrganizationPatch) (*Organization, error) {
	org, ok := t.state.orgs[name]
	if !ok {
		return nil, apperrors.NotFoundf("organization %q not found", name)
	}
	if patch.DisplayName != nil {
		org.DisplayName = copyString(patch.DisplayName)
	}
	if patch.Description != nil {
		org.Description = copyString(patch.Description)
	}
	if patch.WebsiteURL != nil {
		org.WebsiteURL = copyString(patch.WebsiteURL)
	}
	if patch.AvatarURL != nil {
		org.AvatarURL = copyString(patch.AvatarURL)
	}
	org.UpdatedAt = t.now()
	return copyOrganization(org), nil
}

func (t *memoryTx) DeleteOrganization(ctx context.Context, name string) error {
	org, ok := t.state.orgs[name]
	if !ok {
		return apperrors.NotFoundf("organization %q not found", name)
	}
	delete(t.state.orgs, name)
	delete(t.state.members, org.ID)
	return nil
}

func (t *memoryTx) ListMembers(ctx context.Context, orgID int64) ([]*Membership, error) {
	members := make([]*Membership, 0, len(t.state.members[orgID]))
	for _, m := range t.state.members[orgID] {
		members = append(members, copyMembership(m))
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (t *memoryTx) ListUserOrganizations(ctx context.Context, userID int64) ([]*Organization, error) {
	orgs := []*Organization{}
	for _, org := range t.state.orgs {
		if t.find(org.ID, userID) != nil {
			orgs = append(orgs, copyOrganization(org))
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (t *memoryTx) GetRole(ctx context.Context, orgID, userID int64) (Role, bool, error) {
	m := t.find(orgID, userID)
	if m == nil {
		return roleUnknown, false, nil
	}
	return m.Role, true, nil
}

func (t *memoryTx) AddMember(ctx context.Context, nm NewMembership) (*Membership, error) {
	if !t.orgExists(nm.OrganizationID) {
		return nil, apperrors.NotFoundf("organization %d not found", nm.OrganizationID)
	}
	if t.find(nm.OrganizationID, nm.UserID) != nil {
		return nil, apperrors.Conflictf("user %d is already a member of this organization", nm.UserID)
	}
	t.state.nextMemberID++
	m := &Membership{
		ID:             t.state.nextMemberID,
		OrganizationID: nm.OrganizationID,
		UserID:         nm.UserID,
		Role:           nm.Role,
		JoinedAt:       t.now(),
		InvitedAt:      copyTime(nm.InvitedAt),
		InvitedBy:      copyInt64(nm.InvitedBy),
	}
	t.state.members[nm.OrganizationID] = append(t.state.members[nm.OrganizationID], m)
	return copyMembership(m), nil
}

func (t *memoryTx) UpdateMemberRole(ctx context.Context, orgID, userID int64, role Role) (*Membership, error) {
	m := t.find(orgID, userID)
	if m == nil {
		return nil, apperrors.NotFoundf("user %d is not a member of this organization", userID)
	}
	m.Role = role
	return copyMembership(m), nil
}

func (t *memoryTx) RemoveMember(ctx context.Context, orgID, userID int64) error {
	members := t.state.members[orgID]
	for i, m := range members {
		if m.UserID == userID {
			t.state.members[orgID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFoundf("user %d is not a member of this organization", userID)
}

func (t *memoryTx) CountOwners(ctx context.Context, orgID int64) (int, error) {
	count := 0
	for _, m := range t.state.members[orgID] {
		if m.Role == RoleOwner {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) find(orgID, userID int64) *Membership {
	for _, m := range t.state.members[orgID] {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

func (t *memoryTx) orgExists(orgID int64) bool {
	for _, org := range t.state.orgs {
		if org.ID == orgID {
			return true
		}
	}
	return false
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		orgs:         make(map[string]*Organization, len(st.orgs)),
		members:      make(map[int64][]*Membership, len(st.members)),
		nextOrgID:    st.nextOrgID,
		nextMemberID: st.nextMemberID,
	}
	for name, org := range st.orgs {
		c.orgs[name] = copyOrganization(org)
	}
	for orgID, members := range st.members {
		cm := make([]*Membership, len(members))
		for i, m := range members {
			cm[i] = copyMembership(m)
		}
		c.members[orgID] = cm
	}
	return c
}

func copyOrganization(org *Organization) *Organization {
	c := *org
	c.DisplayName = copyString(org.DisplayName)
	c.Description = copyString(org.Description)
	c.WebsiteURL = copyString(org.WebsiteURL)
	c.AvatarURL = copyString(org.AvatarURL)
	return &c
}

func copyMembership(m *Membership) *Membership {
	c := *m
	c.InvitedAt = copyTime(m.InvitedAt)
	c.InvitedBy = copyInt64(m.InvitedBy)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
