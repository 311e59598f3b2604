package users

import "time"

// User is an account that can belong to organizations
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateUserRequest is the input to Service.Create
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=320"`
}

// UpdateUserRequest carries a partial update. Nil fields are left unchanged.
type UpdateUserRequest struct {
	Username *string `json:"username,omitempty" validate:"omitempty,max=255"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email,max=320"`
}

// Empty reports whether the update changes nothing
func (r UpdateUserRequest) Empty() bool {
	return r.Username == nil && r.Email == nil
}

// ListOptions pages through users ordered by id
type ListOptions struct {
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (o ListOptions) normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
