// Package webhook reconciles external payment provider events with local
// subscription state.
//
// The Reconciler sits in front of the billing lifecycle controller as an
// idempotency filter. Ingestion is two-phase:
//
//  1. A durable insert-if-absent into the event ledger, keyed on the
//     provider's globally unique event ID. The storage-level uniqueness
//     constraint, not application locking, is the serialization point, so
//     near-simultaneous duplicate deliveries cannot both pass.
//  2. Dispatch of first-seen events to the lifecycle controller. Handler
//     failures leave the ledger row marked failed; ReprocessFailed retries
//     those rows without a second dedup insert, because the uniqueness key
//     is the external event ID, not the processed flag.
//
// Signature verification is the boundary layer's job and happens before
// Ingest is ever called. Unknown event types are accepted, recorded and
// logged with no transition applied, for forward compatibility with
// provider additions.
package webhook
