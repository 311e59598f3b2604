package orgs

import (
	"context"
)

// OrganizationStore persists organizations keyed by their unique name.
type OrganizationStore interface {
	// CreateOrganization fails with a conflict error when the name is taken.
	CreateOrganization(ctx context.Context, org NewOrganization) (*Organization, error)
	// GetOrganization returns nil, nil when no organization has that name.
	GetOrganization(ctx context.Context, name string) (*Organization, error)
	// LockOrganization is GetOrganization that also holds a row lock until the
	// surrounding transaction ends.
	LockOrganization(ctx context.Context, name string) (*Organization, error)
	UpdateOrganization(ctx context.Context, name string, patch OrganizationPatch) (*Organization, error)
	// DeleteOrganization removes the organization and all its memberships.
	DeleteOrganization(ctx context.Context, name string) error
}

// MembershipStore persists (organization, user) role bindings.
type MembershipStore interface {
	// ListMembers returns memberships ordered by join time.
	ListMembers(ctx context.Context, orgID int64) ([]*Membership, error)
	// ListUserOrganizations returns the user's organizations ordered by name.
	ListUserOrganizations(ctx context.Context, userID int64) ([]*Organization, error)
	// GetRole reports the user's role, ok is false for non-members.
	GetRole(ctx context.Context, orgID, userID int64) (role Role, ok bool, err error)
	AddMember(ctx context.Context, m NewMembership) (*Membership, error)
	UpdateMemberRole(ctx context.Context, orgID, userID int64, role Role) (*Membership, error)
	RemoveMember(ctx context.Context, orgID, userID int64) error
	CountOwners(ctx context.Context, orgID int64) (int, error)
}

// Store combines both stores with a transactional unit of work.
type Store interface {
	OrganizationStore
	MembershipStore

	// InTx runs fn against a store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// UserDirectory resolves members against the external user registry.
type UserDirectory interface {
	// ResolveUser returns the user's id or a not found error.
	ResolveUser(ctx context.Context, ref UserRef) (int64, error)
}

// MemberDecorator fills in display details on member listings.
type MemberDecorator interface {
	DecorateMembers(ctx context.Context, members []*Membership) error
}

// OrganizationCache is an optional read-through cache for GetOrganization.
type OrganizationCache interface {
	// Fetch returns the cached organization or the result of load. A loaded
	// organization must not be cached if name is invalidated while load runs.
	Fetch(ctx context.Context, name string, load func(ctx context.Context) (*Organization, error)) (*Organization, error)
	Invalidate(ctx context.Context, name string)
}

// primaryRouter is implemented by stores that send plain reads to a replica.
type primaryRouter interface {
	// Primary returns a view of the store that reads from the primary.
	Primary() Store
}
