package users

import (
	"context"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

// Directory exposes a Store to the membership service for member lookup
// and listing decoration.
type Directory struct {
	store Store
}

// NewDirectory creates a Directory over store
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// ResolveUser finds a user by id, or by email when no id is given
func (d *Directory) ResolveUser(ctx context.Context, ref orgs.UserRef) (int64, error) {
	var (
		user *User
		err  error
	)
	switch {
	case ref.ID != nil:
		user, err = d.store.Get(ctx, *ref.ID)
	case ref.Email != "":
		user, err = d.store.GetByEmail(ctx, ref.Email)
	default:
		return 0, apperrors.Validationf("user_id or email is required")
	}
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, apperrors.NotFoundf("user not found")
	}
	return user.ID, nil
}

// DecorateMembers fills usernames and emails on members in place
func (d *Directory) DecorateMembers(ctx context.Context, members []*orgs.Membership) error {
	if len(members) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	found, err := d.store.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	for _, m := range members {
		if user, ok := found[m.UserID]; ok {
			m.Username = user.Username
			m.Email = user.Email
		}
	}
	return nil
}

// IDByEmail returns the id of the user registered with email
func (d *Directory) IDByEmail(ctx context.Context, email string) (int64, error) {
	return d.ResolveUser(ctx, orgs.UserRef{Email: email})
}
