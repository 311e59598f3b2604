// Package cache provides the read-through organization cache used by the
// membership service.
//
// Lookups try an in-process expirable LRU first and then redis, where
// entries are stored as JSON under tenancy:org:<name> with the configured
// TTL. Mutations invalidate both tiers.
package cache
