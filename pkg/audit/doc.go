// Package audit records who changed which organization and membership.
//
// Events are emitted by the membership service after a mutation commits.
// Destinations implement Logger and can be combined with MultiLogger:
//
//	logger := audit.NewMultiLogger(
//		audit.NewLogLogger(appLogger),
//		dbLogger,
//	)
//	event := audit.NewEvent(ctx, audit.EventTypeOrgMemberAdd)
//	event.Organization = "acme"
//	_ = logger.Log(ctx, event)
//
// A failing audit destination never fails the operation that produced the
// event; callers log the error and continue.
package audit
