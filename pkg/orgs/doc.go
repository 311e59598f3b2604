// Package orgs manages multi-tenant organizations and their membership roles.
//
// # Roles
//
// Every membership carries exactly one role. Roles are ordered:
//
//	RoleMember < RoleAdmin < RoleOwner
//
// Owners and admins may edit organization metadata and add members. Only
// owners may delete an organization or grant the owner role. Nobody grants
// a role above their own, and admins may only modify plain members.
//
// # Invariants
//
// Organization names are unique. A user holds at most one membership per
// organization. Every organization keeps at least one owner: demoting,
// removing or self-leaving the last owner fails with a conflict error.
//
// # Usage Example
//
//	store := orgs.NewPostgresStore(db)
//	svc := orgs.NewService(store, orgs.ServiceConfig{
//		Users:   directory,
//		Audit:   auditLogger,
//		Metrics: metrics,
//	})
//
//	org, err := svc.CreateOrganization(ctx, orgs.CreateOrganizationRequest{Name: "acme"}, founderID)
//	member, err := svc.AddMember(ctx, "acme", orgs.AddMemberRequest{
//		Email: "dev@example.com",
//		Role:  orgs.RoleMember,
//	}, founderID)
//
// # Transactions
//
// Every mutation runs in Store.InTx. The organization row is locked before
// roles are read and the owner count is checked again before commit, so
// concurrent demotions of the last two owners cannot both succeed.
//
// Errors are *apperrors.Error values classified as conflict, not found,
// forbidden, validation or store failures.
package orgs
