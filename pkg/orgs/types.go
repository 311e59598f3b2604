package orgs

import (
	"time"
)

// Organization is a named tenant.
type Organization struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName *string   `json:"display_name,omitempty"`
	Description *string   `json:"description,omitempty"`
	WebsiteURL  *string   `json:"website_url,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership binds one user to one organization with one role.
type Membership struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	UserID         int64      `json:"user_id"`
	Role           Role       `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	InvitedAt      *time.Time `json:"invited_at,omitempty"`
	InvitedBy      *int64     `json:"invited_by,omitempty"`

	// Populated on listings when a user directory is available
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// NewOrganization is the store input for a new organization row.
type NewOrganization struct {
	Name        string
	DisplayName *string
	Description *string
	WebsiteURL  *string
}

// NewMembership is the store input for a new membership row.
type NewMembership struct {
	OrganizationID int64
	UserID         int64
	Role           Role
	InvitedAt      *time.Time
	InvitedBy      *int64
}

// CreateOrganizationRequest is the input to Service.CreateOrganization.
type CreateOrganizationRequest struct {
	Name        string  `json:"name" validate:"required,orgname"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	WebsiteURL  *string `json:"website_url,omitempty" validate:"omitempty,url,max=2048"`
}

// OrganizationPatch carries a partial update. Nil fields are left unchanged.
type OrganizationPatch struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	WebsiteURL  *string `json:"website_url,omitempty" validate:"omitempty,url,max=2048"`
	AvatarURL   *string `json:"avatar_url,omitempty" validate:"omitempty,url,max=2048"`
}

// Empty reports whether the patch changes nothing.
func (p OrganizationPatch) Empty() bool {
	return p.DisplayName == nil && p.Description == nil && p.WebsiteURL == nil && p.AvatarURL == nil
}

// AddMemberRequest identifies the user to add either by id or by email.
type AddMemberRequest struct {
	UserID *int64 `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Role   Role   `json:"role" validate:"required"`
}

// UpdateMemberRoleRequest is the body of a role change.
type UpdateMemberRoleRequest struct {
	Role Role `json:"role" validate:"required"`
}

// UserRef is how a member is looked up in the user directory.
type UserRef struct {
	ID    *int64
	Email string
}
