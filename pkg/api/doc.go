// Package api provides the HTTP REST API of the tenancy service.
//
// # Routes
//
// Organizations and memberships:
//
//	POST   /organizations                           create, caller becomes owner (201)
//	GET    /organizations                           caller's organizations
//	GET    /organizations/{name}                    fetch one
//	PUT    /organizations/{name}                    partial update (owner, admin)
//	DELETE /organizations/{name}                    delete (owner, 204)
//	PUT    /organizations/{name}/avatar             raw image body (owner, admin)
//	GET    /organizations/{name}/members            list members
//	POST   /organizations/{name}/members            add by user_id or email (201)
//	PUT    /organizations/{name}/members/{user_id}  change role
//	DELETE /organizations/{name}/members/{user_id}  remove or leave (204)
//
// Users:
//
//	POST   /users, GET /users, GET /users/{id}, PUT /users/{id}, DELETE /users/{id}
//
// Responses wrap payloads in an envelope named after the resource, for
// example {"organization": {...}} or {"members": [...]}. Errors use
// {"error": {"message", "code", "correlation_id"}}.
//
// # Identity
//
// The acting user comes from the configured identity middleware. Routes that
// mutate state answer 401 without one.
//
//	server := api.NewServer(api.Config{
//		Orgs:     orgService,
//		Users:    userService,
//		Identity: middleware.HeaderIdentity,
//		Logger:   logger,
//	})
//	http.ListenAndServe(":8080", server)
package api
