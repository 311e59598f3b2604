package users

import "context"

// Store persists users. Lookups return nil, nil when the user does not exist.
type Store interface {
	// Create fails with a conflict error when the email is taken.
	Create(ctx context.Context, req CreateUserRequest) (*User, error)
	Get(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetMany returns the users that exist among ids, keyed by id.
	GetMany(ctx context.Context, ids []int64) (map[int64]*User, error)
	Update(ctx context.Context, id int64, req UpdateUserRequest) (*User, error)
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, opts ListOptions) ([]*User, error)
}
