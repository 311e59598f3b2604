// Package users manages the accounts that organizations draw their members
// from.
//
// Users are identified by a numeric id and a unique, case-insensitive email
// address. Deleting a user cascades to every membership it holds.
//
// A Directory adapts a Store to the lookups the membership service needs:
//
//	store := users.NewPostgresStore(db)
//	dir := users.NewDirectory(store)
//	svc := orgs.NewService(orgStore, orgs.ServiceConfig{Users: dir, Decorator: dir})
package users
