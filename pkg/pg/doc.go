// Package pg manages the PostgreSQL connection pool used by billgate
// storage implementations.
//
// It provides retrying pool construction, goose migrations over the shared
// pool, a health check closure, and error classification helpers for
// uniqueness and not-found conditions. The uniqueness classification matters
// beyond diagnostics: webhook deduplication and external subscription
// identity both rely on database unique constraints, and the stores turn
// SQLSTATE 23505 into domain outcomes.
package pg
