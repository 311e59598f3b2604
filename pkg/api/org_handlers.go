package api

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

// OrgService is the membership service consumed by the organization routes
type OrgService interface {
	CreateOrganization(ctx context.Context, req orgs.CreateOrganizationRequest, founderID int64) (*orgs.Organization, error)
	GetOrganization(ctx context.Context, name string) (*orgs.Organization, error)
	UpdateOrganization(ctx context.Context, name string, patch orgs.OrganizationPatch, actingUserID int64) (*orgs.Organization, error)
	DeleteOrganization(ctx context.Context, name string, actingUserID int64) error
	ListMembers(ctx context.Context, name string, actingUserID *int64) ([]*orgs.Membership, error)
	AddMember(ctx context.Context, name string, req orgs.AddMemberRequest, inviterID int64) (*orgs.Membership, error)
	ChangeMemberRole(ctx context.Context, name string, targetUserID int64, newRole orgs.Role, actingUserID int64) (*orgs.Membership, error)
	RemoveMember(ctx context.Context, name string, targetUserID, actingUserID int64) error
	ListUserOrganizations(ctx context.Context, userID int64) ([]*orgs.Organization, error)
	SetOrganizationAvatar(ctx context.Context, name string, actingUserID int64, contentType string, size int64, body io.Reader) (*orgs.Organization, error)
}

// OrgHandlers handles organization and membership HTTP requests
type OrgHandlers struct {
	orgService OrgService
}

// NewOrgHandlers creates a new OrgHandlers
func NewOrgHandlers(orgService OrgService) *OrgHandlers {
	return &OrgHandlers{
		orgService: orgService,
	}
}

// RegisterRoutes registers organization routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations", h.CreateOrganization).Methods("POST")
	router.HandleFunc("/organizations", h.ListOrganizations).Methods("GET")
	router.HandleFunc("/organizations/{name}", h.GetOrganization).Methods("GET")
	router.HandleFunc("/organizations/{name}", h.UpdateOrganization).Methods("PUT")
	router.HandleFunc("/organizations/{name}", h.DeleteOrganization).Methods("DELETE")
	router.HandleFunc("/organizations/{name}/avatar", h.SetAvatar).Methods("PUT")

	// Members
	router.HandleFunc("/organizations/{name}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/organizations/{name}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/organizations/{name}/members/{user_id}", h.UpdateMember).Methods("PUT")
	router.HandleFunc("/organizations/{name}/members/{user_id}", h.RemoveMember).Methods("DELETE")
}

// requireUser returns the acting user or writes 401
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.ActingUser(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	return userID, true
}

// CreateOrganization creates an organization owned by the caller
func (h *OrgHandlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req orgs.CreateOrganizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.orgService.CreateOrganization(r.Context(), req, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{"organization": org})
}

// ListOrganizations lists the caller's organizations
func (h *OrgHandlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.orgService.ListUserOrganizations(r.Context(), userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organizations": list})
}

// GetOrganization retrieves an organization by name
func (h *OrgHandlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgService.GetOrganization(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organization": org})
}

// UpdateOrganization applies a partial update
func (h *OrgHandlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var patch orgs.OrganizationPatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	org, err := h.orgService.UpdateOrganization(r.Context(), mux.Vars(r)["name"], patch, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organization": org})
}

// DeleteOrganization deletes an organization
func (h *OrgHandlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.orgService.DeleteOrganization(r.Context(), mux.Vars(r)["name"], userID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetAvatar uploads the raw request body as the organization avatar
func (h *OrgHandlers) SetAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		httputil.WriteBadRequest(w, "Content-Type must be an image type")
		return
	}

	// One byte over the limit is enough for the service to reject the upload.
	data, err := io.ReadAll(io.LimitReader(r.Body, orgs.MaxAvatarBytes+1))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}
	if len(data) == 0 {
		httputil.WriteBadRequest(w, "request body is required")
		return
	}

	org, err := h.orgService.SetOrganizationAvatar(r.Context(), mux.Vars(r)["name"], userID,
		contentType, int64(len(data)), bytes.NewReader(data))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organization": org})
}

// ListMembers lists organization members. Anonymous callers are refused with
// 401 unless anonymous listing is enabled.
func (h *OrgHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	var acting *int64
	if userID, ok := middleware.ActingUser(r); ok {
		acting = &userID
	}

	members, err := h.orgService.ListMembers(r.Context(), mux.Vars(r)["name"], acting)
	if err != nil {
		if acting == nil && apperrors.Is(err, apperrors.KindForbidden) {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// AddMember adds a member by user id or email
func (h *OrgHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req orgs.AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.orgService.AddMember(r.Context(), mux.Vars(r)["name"], req, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{"member": member})
}

// UpdateMember changes a member's role
func (h *OrgHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	var req orgs.UpdateMemberRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.orgService.ChangeMemberRole(r.Context(), mux.Vars(r)["name"], targetID, req.Role, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"member": member})
}

// RemoveMember removes a member, or lets the caller leave
func (h *OrgHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.orgService.RemoveMember(r.Context(), mux.Vars(r)["name"], targetID, userID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
