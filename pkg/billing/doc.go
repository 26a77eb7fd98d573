// Package billing owns the subscription lifecycle for billgate.
//
// The package models users, subscriptions and payment attempts, and exposes
// the Lifecycle controller - the single authority over subscription status
// transitions. Both user-initiated actions (checkout, cancel, reactivate)
// and provider-originated webhook events funnel through the same
// ApplyStatus primitive, which performs a monotonic, compare-and-swap
// guarded partial update:
//
//   - fields absent from a StatusChange keep their stored values;
//   - an update whose billing period does not move strictly forward cannot
//     rewind the stored period or resurrect a canceled subscription, though
//     same-window status flips between active and past_due still apply
//     (stale out-of-order webhook deliveries otherwise become no-ops);
//   - the write is a single conditional update keyed on the row's previous
//     updated_at, so concurrent transitions on the same subscription cannot
//     interleave into a lost update. Contention surfaces as ErrConflict and
//     callers retry the whole operation.
//
// Storage is abstracted behind capability interfaces (UserStore,
// SubscriptionStore, AttemptStore) with PostgreSQL and in-memory
// implementations, and the payment provider behind PaymentProvider with a
// Stripe implementation. Notification dispatch is fire-and-forget: a failed
// notification never reverses a committed transition.
package billing
