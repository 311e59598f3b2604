package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/users"
)

// UserService is the account service consumed by the user routes
type UserService interface {
	Create(ctx context.Context, req users.CreateUserRequest) (*users.User, error)
	Get(ctx context.Context, id int64) (*users.User, error)
	Update(ctx context.Context, id int64, req users.UpdateUserRequest) (*users.User, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, opts users.ListOptions) ([]*users.User, error)
}

// UserHandlers handles user account HTTP requests
type UserHandlers struct {
	userService UserService
}

// NewUserHandlers creates a new UserHandlers
func NewUserHandlers(userService UserService) *UserHandlers {
	return &UserHandlers{userService: userService}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.UpdateUser).Methods("PUT")
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
}

// CreateUser registers a user
func (h *UserHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.userService.Create(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{"user": user})
}

// ListUsers pages through users with ?limit= and ?offset=
func (h *UserHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.ParseQueryIntOrError(w, r, "limit", users.DefaultListLimit)
	if !ok {
		return
	}
	offset, ok := httputil.ParseQueryIntOrError(w, r, "offset", 0)
	if !ok {
		return
	}

	list, err := h.userService.List(r.Context(), users.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": list})
}

// GetUser retrieves a user by id
func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.userService.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// UpdateUser updates the caller's own account
func (h *UserHandlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	var req users.UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.userService.Update(r.Context(), id, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// DeleteUser deletes the caller's own account
func (h *UserHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// requireSelf parses {id} and checks it is the acting user
func (h *UserHandlers) requireSelf(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actingID, ok := requireUser(w, r)
	if !ok {
		return 0, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, false
	}
	if id != actingID {
		httputil.WriteForbidden(w, "users may only modify their own account")
		return 0, false
	}
	return id, true
}

