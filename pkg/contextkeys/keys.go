// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that the
// middleware that sets a value and the code that reads it agree on the key.
//
//	ctx = contextkeys.WithActingUser(ctx, 42)
//	userID, ok := contextkeys.ActingUser(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the correlation id string
	// Set by: httputil.CorrelationIDMiddleware
	// Used by: Logger, audit trail, error bodies
	RequestIDKey Key = "request_id"

	// UserIDKey contains the acting user id rendered as a string for logs
	// Set by: middleware.IdentityMiddleware
	UserIDKey Key = "user_id"

	// ActingUserKey contains the authenticated caller's int64 user id
	// Set by: middleware.IdentityMiddleware
	// Required by: every api handler that calls the membership service
	ActingUserKey Key = "acting_user"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	LoggerKey Key = "logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithActingUser records the authenticated caller
func WithActingUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ActingUserKey, userID)
}

// ActingUser returns the authenticated caller, if any
func ActingUser(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(ActingUserKey).(int64)
	if !ok || userID <= 0 {
		return 0, false
	}
	return userID, true
}
