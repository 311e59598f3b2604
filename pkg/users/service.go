package users

import (
	"context"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

// MembershipReleaser detaches a user from every organization. It refuses
// when that would leave an organization without an owner.
type MembershipReleaser interface {
	ReleaseUser(ctx context.Context, userID int64) error
}

// Service validates user requests and classifies store results
type Service struct {
	store       Store
	memberships MembershipReleaser
}

// NewService creates a Service backed by store
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithMemberships makes Delete release the user's memberships first.
func (s *Service) WithMemberships(m MembershipReleaser) *Service {
	clone := *s
	clone.memberships = m
	return &clone
}

// Create registers a new user
func (s *Service) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}
	return s.store.Create(ctx, req)
}

// Get returns the user or a not found error
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFoundf("user %d not found", id)
	}
	return user, nil
}

// Update applies a partial update. An empty update returns the current user.
func (s *Service) Update(ctx context.Context, id int64, req UpdateUserRequest) (*User, error) {
	if err := validateUpdate(&req); err != nil {
		return nil, err
	}
	if req.Empty() {
		return s.Get(ctx, id)
	}
	user, err := s.store.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFoundf("user %d not found", id)
	}
	return user, nil
}

// Delete removes the user after releasing its memberships. A user that is
// the last owner of an organization cannot be deleted.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if s.memberships != nil {
		if err := s.memberships.ReleaseUser(ctx, id); err != nil {
			return err
		}
	}
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperrors.NotFoundf("user %d not found", id)
	}
	return nil
}

// List returns a page of users
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*User, error) {
	return s.store.List(ctx, opts)
}
