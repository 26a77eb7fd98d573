// Package notifier delivers transactional notifications to users.
//
// Delivery is fire-and-forget from the caller's perspective: billing
// transitions use Dispatch, which runs the send on its own goroutine with a
// detached, bounded context and logs failures instead of propagating them.
// A failed notification never reverses or blocks the state transition that
// triggered it.
//
// The Postmark sender renders a small HTML template per notification kind;
// DevSender logs instead of sending and is used in tests and local
// development.
package notifier
