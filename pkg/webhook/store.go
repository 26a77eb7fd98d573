package webhook

import "context"

// EventStore persists the dedup ledger. Implementations must enforce
// uniqueness of ExternalEventID at the storage layer so that concurrent
// inserts of the same ID resolve to exactly one winner.
type EventStore interface {
	// InsertIfAbsent stores the event unless a row with the same external
	// event ID already exists. It reports whether the insert happened.
	InsertIfAbsent(ctx context.Context, ev Event) (inserted bool, err error)
	// ByExternalID returns the ledger row for the given external event ID.
	ByExternalID(ctx context.Context, externalEventID string) (Event, error)
	// MarkProcessed stamps the row as successfully handled and clears any
	// previous failure reason.
	MarkProcessed(ctx context.Context, externalEventID string) error
	// MarkFailed records a handler failure and bumps the attempt counter.
	MarkFailed(ctx context.Context, externalEventID, reason string) error
	// ListFailed returns unprocessed rows with at least one failed attempt,
	// oldest first, up to limit.
	ListFailed(ctx context.Context, limit int) ([]Event, error)
}
