package orgs

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// MaxAvatarBytes is the largest accepted avatar upload.
const MaxAvatarBytes = 1 << 20

var avatarContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// OperationRecorder receives one observation per service call.
type OperationRecorder interface {
	RecordOperation(operation, result string, duration time.Duration)
}

// AvatarStore uploads organization avatars and returns their public URL.
type AvatarStore interface {
	PutAvatar(ctx context.Context, org, contentType string, size int64, body io.Reader) (string, error)
	// DeleteAvatar removes an avatar previously returned by PutAvatar.
	DeleteAvatar(ctx context.Context, url string) error
}

// ServiceConfig carries the optional collaborators of a Service.
type ServiceConfig struct {
	Users     UserDirectory
	Decorator MemberDecorator
	Cache     OrganizationCache
	Avatars   AvatarStore
	Audit     audit.Logger
	Metrics   OperationRecorder
	Logger    *observability.Logger

	// AllowAnonymousMemberListing lets callers without an identity list members.
	AllowAnonymousMemberListing bool

	Now func() time.Time
}

// Service enforces role policy around the organization and membership stores.
type Service struct {
	store     Store
	primary   Store
	users     UserDirectory
	decorator MemberDecorator
	cache     OrganizationCache
	avatars   AvatarStore
	audit     audit.Logger
	metrics   OperationRecorder
	logger    *observability.Logger
	allowAnon bool
	now       func() time.Time
	tracer    trace.Tracer
}

// NewService creates a Service over store.
func NewService(store Store, cfg ServiceConfig) *Service {
	s := &Service{
		store:     store,
		primary:   store,
		users:     cfg.Users,
		decorator: cfg.Decorator,
		cache:     cfg.Cache,
		avatars:   cfg.Avatars,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		allowAnon: cfg.AllowAnonymousMemberListing,
		now:       cfg.Now,
		tracer:    otel.Tracer("github.com/platinummonkey/tenancy/pkg/orgs"),
	}
	if router, ok := store.(primaryRouter); ok {
		s.primary = router.Primary()
	}
	if s.audit == nil {
		s.audit = audit.NoopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type operation string

const (
	opCreateOrganization    operation = "CreateOrganization"
	opGetOrganization       operation = "GetOrganization"
	opUpdateOrganization    operation = "UpdateOrganization"
	opDeleteOrganization    operation = "DeleteOrganization"
	opListMembers           operation = "ListMembers"
	opAddMember             operation = "AddMember"
	opChangeMemberRole      operation = "ChangeMemberRole"
	opRemoveMember          operation = "RemoveMember"
	opListUserOrganizations operation = "ListUserOrganizations"
	opReleaseUser           operation = "ReleaseUser"
	opSetAvatar             operation = "SetOrganizationAvatar"
)

// label renders the operation in snake case for metrics.
func (o operation) label() string {
	var b strings.Builder
	for i, r := range string(o) {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Service) log(ctx context.Context) *observability.Logger {
	if s.logger != nil {
		return s.logger.WithContext(ctx)
	}
	return observability.FromContext(ctx)
}

// observe wraps fn in a span and a metric observation. Unclassified errors
// are reported as store failures.
func (s *Service) observe(ctx context.Context, op operation, org string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "orgs.Service/"+string(op),
		trace.WithAttributes(attribute.String("tenancy.organization", org)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	result := "success"
	if err != nil {
		err = apperrors.Store(err, "failed to "+strings.ReplaceAll(op.label(), "_", " "))
		kind := apperrors.KindOf(err)
		result = kind.String()
		span.SetAttributes(attribute.String("tenancy.error_kind", result))
		if kind == apperrors.KindStore {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store failure")
			s.log(ctx).WithError(err).WithFields(map[string]interface{}{
				"operation":    string(op),
				"organization": org,
			}).Error("membership operation failed")
		}
	}
	if s.metrics != nil {
		s.metrics.RecordOperation(op.label(), result, time.Since(start))
	}
	return err
}

func (s *Service) emit(ctx context.Context, event *audit.Event) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.log(ctx).WithError(err).WithField("event_type", string(event.Type)).Warn("failed to record audit event")
	}
}

func (s *Service) invalidate(ctx context.Context, name string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, name)
	}
}

func lockOrganization(ctx context.Context, tx Store, name string) (*Organization, error) {
	org, err := tx.LockOrganization(ctx, name)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, apperrors.NotFoundf("organization %q not found", name)
	}
	return org, nil
}

// memberRole returns the caller's role or Forbidden for non-members.
func memberRole(ctx context.Context, tx Store, orgID, userID int64) (Role, error) {
	role, ok, err := tx.GetRole(ctx, orgID, userID)
	if err != nil {
		return roleUnknown, err
	}
	if !ok {
		return roleUnknown, apperrors.Forbiddenf("user %d is not a member of this organization", userID)
	}
	return role, nil
}

// ensureOwnerRemains rolls the transaction back when no owner is left.
func ensureOwnerRemains(ctx context.Context, tx Store, orgID int64) error {
	owners, err := tx.CountOwners(ctx, orgID)
	if err != nil {
		return err
	}
	if owners < 1 {
		return apperrors.Conflictf("organization must retain at least one owner")
	}
	return nil
}

// CreateOrganization creates an organization with founderID as its first owner.
func (s *Service) CreateOrganization(ctx context.Context, req CreateOrganizationRequest, founderID int64) (*Organization, error) {
	var org *Organization
	err := s.observe(ctx, opCreateOrganization, req.Name, func(ctx context.Context) error {
		if err := validateStruct(req); err != nil {
			return err
		}
		if founderID <= 0 {
			return apperrors.Validationf("founder user id is required")
		}

		return s.store.InTx(ctx, func(tx Store) error {
			existing, err := tx.GetOrganization(ctx, req.Name)
			if err != nil {
				return err
			}
			if existing != nil {
				return apperrors.Conflictf("organization %q already exists", req.Name)
			}

			created, err := tx.CreateOrganization(ctx, NewOrganization{
				Name:        req.Name,
				DisplayName: req.DisplayName,
				Description: req.Description,
				WebsiteURL:  req.WebsiteURL,
			})
			if err != nil {
				return err
			}
			if _, err := tx.AddMember(ctx, NewMembership{
				OrganizationID: created.ID,
				UserID:         founderID,
				Role:           RoleOwner,
			}); err != nil {
				return err
			}
			org = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(ctx, audit.EventTypeOrgCreate)
	event.ActorID = &founderID
	event.OrganizationID = &org.ID
	event.Organization = org.Name
	event.TargetUserID = &founderID
	event.Role = RoleOwner.String()
	s.emit(ctx, event)

	return org, nil
}

// GetOrganization returns the organization or a not found error.
func (s *Service) GetOrganization(ctx context.Context, name string) (*Organization, error) {
	var org *Organization
	err := s.observe(ctx, opGetOrganization, name, func(ctx context.Context) error {
		var (
			found *Organization
			err   error
		)
		if s.cache != nil {
			found, err = s.cache.Fetch(ctx, name, func(ctx context.Context) (*Organization, error) {
				return s.primary.GetOrganization(ctx, name)
			})
		} else {
			found, err = s.store.GetOrganization(ctx, name)
		}
		if err != nil {
			return err
		}
		if found == nil {
			return apperrors.NotFoundf("organization %q not found", name)
		}
		org = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// UpdateOrganization applies patch when the caller is an owner or admin.
func (s *Service) UpdateOrganization(ctx context.Context, name string, patch OrganizationPatch, actingUserID int64) (*Organization, error) {
	var before, after *Organization
	err := s.observe(ctx, opUpdateOrganization, name, func(ctx context.Context) error {
		if err := validateStruct(patch); err != nil {
			return err
		}

		return s.store.InTx(ctx, func(tx Store) error {
			org, err := lockOrganization(ctx, tx, name)
			if err != nil {
				return err
			}
			role, err := memberRole(ctx, tx, org.ID, actingUserID)
			if err != nil {
				return err
			}
			if !CanManageOrganization(role) {
				return apperrors.Forbiddenf("role %s cannot update the organization", role)
			}

			before = org
			if patch.Empty() {
				after = org
				return nil
			}
			after, err = tx.UpdateOrganization(ctx, name, patch)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if !patch.Empty() {
		s.invalidate(ctx, name)

		event := audit.NewEvent(ctx, audit.EventTypeOrgUpdate)
		event.ActorID = &actingUserID
		event.OrganizationID = &after.ID
		event.Organization = after.Name
		event.Changes = organizationChanges(before, after)
		s.emit(ctx, event)
	}
	return after, nil
}

// DeleteOrganization removes the organization and every membership. Owners only.
func (s *Service) DeleteOrganization(ctx context.Context, name string, actingUserID int64) error {
	var orgID int64
	err := s.observe(ctx, opDeleteOrganization, name, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx Store) error {
			org, err := lockOrganization(ctx, tx, name)
			if err != nil {
				return err
			}
			role, err := memberRole(ctx, tx, org.ID, actingUserID)
			if err != nil {
				return err
			}
			if !CanDeleteOrganization(role) {
				return apperrors.Forbiddenf("role %s cannot delete the organization", role)
			}
			orgID = org.ID
			return tx.DeleteOrganization(ctx, name)
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, name)

	event := audit.NewEvent(ctx, audit.EventTypeOrgDelete)
	event.ActorID = &actingUserID
	event.OrganizationID = &orgID
	event.Organization = name
	s.emit(ctx, event)
	return nil
}

// ListMembers returns the organization's members in join order. A nil
// actingUserID is an anonymous caller.
func (s *Service) ListMembers(ctx context.Context, name string, actingUserID *int64) ([]*Membership, error) {
	var members []*Membership
	err := s.observe(ctx, opListMembers, name, func(ctx context.Context) error {
		err := s.store.InTx(ctx, func(tx Store) error {
			org, err := tx.GetOrganization(ctx, name)
			if err != nil {
				return err
			}
			if org == nil {
				return apperrors.NotFoundf("organization %q not found", name)
			}

			if actingUserID == nil {
				if !s.allowAnon {
					return apperrors.Forbiddenf("anonymous callers cannot list members")
				}
			} else if _, err := memberRole(ctx, tx, org.ID, *actingUserID); err != nil {
				return err
			}

			members, err = tx.ListMembers(ctx, org.ID)
			return err
		})
		if err != nil {
			return err
		}

		if s.decorator != nil && len(members) > 0 {
			if err := s.decorator.DecorateMembers(ctx, members); err != nil {
				s.log(ctx).WithError(err).WithField("organization", name).Warn("failed to decorate members")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []*Membership{}
	}
	return members, nil
}

func (s *Service) resolveUser(ctx context.Context, req AddMemberRequest) (int64, error) {
	if s.users != nil {
		return s.users.ResolveUser(ctx, UserRef{ID: req.UserID, Email: req.Email})
	}
	if req.UserID == nil {
		return 0, apperrors.Validationf("email lookup requires a user directory")
	}
	return *req.UserID, nil
}

// AddMember adds a user by id or email with the requested role.
func (s *Service) AddMember(ctx context.Context, name string, req AddMemberRequest, inviterID int64) (*Membership, error) {
	var member *Membership
	err := s.observe(ctx, opAddMember, name, func(ctx context.Context) error {
		if err := validateStruct(req); err != nil {
			return err
		}
		if req.UserID == nil && req.Email == "" {
			return apperrors.Validationf("either user_id or email is required")
		}
		if req.UserID != nil && *req.UserID <= 0 {
			return apperrors.Validationf("user_id must be positive")
		}
		if !req.Role.Valid() {
			return apperrors.Validationf("role must be one of owner, admin, member")
		}

		return s.store.InTx(ctx, func(tx Store) error {
			org, err := lockOrganization(ctx, tx, name)
			if err != nil {
				return err
			}
			inviterRole, err := memberRole(ctx, tx, org.ID, inviterID)
			if err != nil {
				return err
			}
			if !CanManageMembers(inviterRole) {
				return apperrors.Forbiddenf("role %s cannot add members", inviterRole)
			}
			if !CanChangeRoleTo(inviterRole, req.Role) {
				return apperrors.Forbiddenf("role %s cannot grant role %s", inviterRole, req.Role)
			}

			userID, err := s.resolveUser(ctx, req)
			if err != nil {
				return err
			}
			if _, exists, err := tx.GetRole(ctx, org.ID, userID); err != nil {
				return err
			} else if exists {
				return apperrors.Conflictf("user %d is already a member of %q", userID, name)
			}

			invitedAt := s.now().UTC()
			member, err = tx.AddMember(ctx, NewMembership{
				OrganizationID: org.ID,
				UserID:         userID,
				Role:           req.Role,
				InvitedAt:      &invitedAt,
				InvitedBy:      &inviterID,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(ctx, audit.EventTypeOrgMemberAdd)
	event.ActorID = &inviterID
	event.OrganizationID = &member.OrganizationID
	event.Organization = name
	event.TargetUserID = &member.UserID
	event.Role = member.Role.String()
	s.emit(ctx, event)

	return member, nil
}

// ChangeMemberRole moves targetUserID to newRole.
func (s *Service) ChangeMemberRole(ctx context.Context, name string, targetUserID int64, newRole Role, actingUserID int64) (*Membership, error) {
	var (
		member  *Membership
		oldRole Role
	)
	err := s.observe(ctx, opChangeMemberRole, name, func(ctx context.Context) error {
		if !newRole.Valid() {
			return apperrors.Validationf("role must be one of owner, admin, member")
		}

		return s.store.InTx(ctx, func(tx Store) error {
			org, err := lockOrganization(ctx, tx, name)
			if err != nil {
				return err
			}
			actingRole, err := memberRole(ctx, tx, org.ID, actingUserID)
			if err != nil {
				return err
			}
			targetRole, err := memberRole(ctx, tx, org.ID, targetUserID)
			if err != nil {
				return err
			}
			if !CanChangeRoleTo(actingRole, newRole) || !CanRemoveMember(actingRole, targetRole) {
				return apperrors.Forbiddenf("role %s cannot change a %s to %s", actingRole, targetRole, newRole)
			}

			oldRole = targetRole
			member, err = tx.UpdateMemberRole(ctx, org.ID, targetUserID, newRole)
			if err != nil {
				return err
			}
			if targetRole == RoleOwner {
				return ensureOwnerRemains(ctx, tx, org.ID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	event := audit.NewEvent(ctx, audit.EventTypeOrgMemberRoleChange)
	event.ActorID = &actingUserID
	event.OrganizationID = &member.OrganizationID
	event.Organization = name
	event.TargetUserID = &targetUserID
	event.Role = newRole.String()
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"role": oldRole.String()},
		After:  map[string]interface{}{"role": newRole.String()},
	}
	s.emit(ctx, event)

	return member, nil
}

// RemoveMember removes targetUserID. Members may always remove themselves
// unless they are the last owner.
func (s *Service) RemoveMember(ctx context.Context, name string, targetUserID, actingUserID int64) error {
	var (
		orgID      int64
		targetRole Role
	)
	err := s.observe(ctx, opRemoveMember, name, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx Store) error {
			org, err := lockOrganization(ctx, tx, name)
			if err != nil {
				return err
			}
			orgID = org.ID

			if targetUserID == actingUserID {
				role, ok, err := tx.GetRole(ctx, org.ID, targetUserID)
				if err != nil {
					return err
				}
				if !ok {
					return apperrors.NotFoundf("user %d is not a member of %q", targetUserID, name)
				}
				targetRole = role
			} else {
				actingRole, err := memberRole(ctx, tx, org.ID, actingUserID)
				if err != nil {
					return err
				}
				targetRole, err = memberRole(ctx, tx, org.ID, targetUserID)
				if err != nil {
					return err
				}
				if !CanRemoveMember(actingRole, targetRole) {
					return apperrors.Forbiddenf("role %s cannot remove a %s", actingRole, targetRole)
				}
			}

			if err := tx.RemoveMember(ctx, org.ID, targetUserID); err != nil {
				return err
			}
			if targetRole == RoleOwner {
				return ensureOwnerRemains(ctx, tx, org.ID)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	event := audit.NewEvent(ctx, audit.EventTypeOrgMemberRemove)
	event.ActorID = &actingUserID
	event.OrganizationID = &orgID
	event.Organization = name
	event.TargetUserID = &targetUserID
	event.Role = targetRole.String()
	s.emit(ctx, event)
	return nil
}

// ReleaseUser removes userID from every organization it belongs to, ahead of
// deleting the account. Nothing changes and a conflict is returned when the
// user is the last owner of any of them.
func (s *Service) ReleaseUser(ctx context.Context, userID int64) error {
	type release struct {
		org  *Organization
		role Role
	}
	var released []release

	err := s.observe(ctx, opReleaseUser, "", func(ctx context.Context) error {
		if userID <= 0 {
			return apperrors.Validationf("user id is required")
		}
		return s.store.InTx(ctx, func(tx Store) error {
			memberOf, err := tx.ListUserOrganizations(ctx, userID)
			if err != nil {
				return err
			}
			// Lock in id order so concurrent releases cannot deadlock.
			sort.Slice(memberOf, func(i, j int) bool { return memberOf[i].ID < memberOf[j].ID })

			for _, listed := range memberOf {
				org, err := tx.LockOrganization(ctx, listed.Name)
				if err != nil {
					return err
				}
				if org == nil {
					continue
				}
				role, ok, err := tx.GetRole(ctx, org.ID, userID)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := tx.RemoveMember(ctx, org.ID, userID); err != nil {
					return err
				}
				if role == RoleOwner {
					err := ensureOwnerRemains(ctx, tx, org.ID)
					if apperrors.Is(err, apperrors.KindConflict) {
						return apperrors.Conflictf("user %d is the last owner of %q; transfer ownership or delete the organization first", userID, org.Name)
					}
					if err != nil {
						return err
					}
				}
				released = append(released, release{org: org, role: role})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, r := range released {
		event := audit.NewEvent(ctx, audit.EventTypeOrgMemberRemove)
		event.ActorID = &userID
		event.OrganizationID = &r.org.ID
		event.Organization = r.org.Name
		event.TargetUserID = &userID
		event.Role = r.role.String()
		s.emit(ctx, event)
	}
	return nil
}

// ListUserOrganizations returns the organizations userID belongs to, by name.
func (s *Service) ListUserOrganizations(ctx context.Context, userID int64) ([]*Organization, error) {
	var orgs []*Organization
	err := s.observe(ctx, opListUserOrganizations, "", func(ctx context.Context) error {
		if userID <= 0 {
			return apperrors.Validationf("user id is required")
		}
		var err error
		orgs, err = s.store.ListUserOrganizations(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if orgs == nil {
		orgs = []*Organization{}
	}
	return orgs, nil
}

// SetOrganizationAvatar uploads an image and points the organization at it.
func (s *Service) SetOrganizationAvatar(ctx context.Context, name string, actingUserID int64, contentType string, size int64, body io.Reader) (*Organization, error) {
	var org *Organization
	err := s.observe(ctx, opSetAvatar, name, func(ctx context.Context) error {
		if s.avatars == nil {
			return errors.New("avatar storage is not configured")
		}
		if !avatarContentTypes[contentType] {
			return apperrors.Validationf("unsupported avatar content type %q", contentType)
		}
		if size <= 0 {
			return apperrors.Validationf("avatar body is required")
		}
		if size > MaxAvatarBytes {
			return apperrors.Validationf("avatar exceeds %d bytes", MaxAvatarBytes)
		}

		authorize := func(tx Store) (*Organization, error) {
			org, err := lockOrganization(ctx, tx, name)
			if err != nil {
				return nil, err
			}
			role, err := memberRole(ctx, tx, org.ID, actingUserID)
			if err != nil {
				return nil, err
			}
			if !CanManageOrganization(role) {
				return nil, apperrors.Forbiddenf("role %s cannot change the avatar", role)
			}
			return org, nil
		}

		if err := s.store.InTx(ctx, func(tx Store) error {
			_, err := authorize(tx)
			return err
		}); err != nil {
			return err
		}

		// Uploaded outside the transaction. The role is checked again before the write.
		url, err := s.avatars.PutAvatar(ctx, name, contentType, size, body)
		if err != nil {
			return apperrors.Store(err, "failed to upload avatar")
		}

		err = s.store.InTx(ctx, func(tx Store) error {
			if _, err := authorize(tx); err != nil {
				return err
			}
			var err error
			org, err = tx.UpdateOrganization(ctx, name, OrganizationPatch{AvatarURL: &url})
			return err
		})
		if err != nil {
			s.discardAvatar(ctx, url)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, name)

	event := audit.NewEvent(ctx, audit.EventTypeOrgAvatarUpdate)
	event.ActorID = &actingUserID
	event.OrganizationID = &org.ID
	event.Organization = name
	s.emit(ctx, event)

	return org, nil
}

// discardAvatar removes an upload that was never attached. Failures leave
// an unreferenced object behind and are only logged.
func (s *Service) discardAvatar(ctx context.Context, url string) {
	if err := s.avatars.DeleteAvatar(context.WithoutCancel(ctx), url); err != nil {
		s.log(ctx).WithError(err).WithField("avatar_url", url).Warn("failed to remove unattached avatar")
	}
}

func organizationChanges(before, after *Organization) *audit.ChangeDetails {
	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{},
		After:  map[string]interface{}{},
	}
	diff := func(field string, a, b *string) {
		if derefString(a) != derefString(b) {
			changes.Before[field] = derefString(a)
			changes.After[field] = derefString(b)
		}
	}
	diff("display_name", before.DisplayName, after.DisplayName)
	diff("description", before.Description, after.Description)
	diff("website_url", before.WebsiteURL, after.WebsiteURL)
	diff("avatar_url", before.AvatarURL, after.AvatarURL)
	return changes
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
