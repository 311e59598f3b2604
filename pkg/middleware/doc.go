// Package middleware provides the identity and rate limiting middleware of
// the tenancy API.
//
// # Identity
//
// HeaderIdentity trusts the X-User-ID header set by an authenticating
// gateway. OIDCIdentity verifies "Authorization: Bearer <id_token>" against
// an OpenID Connect provider and resolves the token's email claim to a
// registered user. Both store the acting user id in the request context;
// requests without credentials continue anonymously and handlers that need
// an identity answer 401.
//
//	router.Use(middleware.HeaderIdentity)
//	id, ok := middleware.ActingUser(r)
//
// # Rate Limiting
//
// RateLimitMiddleware applies fixed window limits per user id, or per client
// address for anonymous callers. MemoryLimiter keeps counters in process;
// RedisLimiter shares them across instances. Limiter failures let the
// request through.
//
// Default (Anonymous): 100 req/min
// Per-User: 1000 req/min
package middleware
