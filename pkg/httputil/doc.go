// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Error Responses
//
// Every error body has the same shape:
//
//	{"error": {"message": "organization not found", "code": 404, "correlation_id": "..."}}
//
// Domain errors are mapped by kind:
//
//	org, err := svc.GetOrganization(ctx, name)
//	if err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.CorrelationIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: identity resolution
package httputil
