package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore defines user persistence. Updates are restricted to dedicated
// operations per mutable field; identifiers and email are never part of a
// generic update.
type UserStore interface {
	// Create persists a new user. Returns ErrEmailTaken if another active
	// user already holds the email.
	Create(ctx context.Context, user *User) error

	// ByID returns the user or ErrUserNotFound.
	ByID(ctx context.Context, id uuid.UUID) (*User, error)

	// ByEmail returns the active user with the given email or ErrUserNotFound.
	ByEmail(ctx context.Context, email string) (*User, error)

	// ByStripeCustomerID resolves the user owning a provider customer
	// reference, used when webhook payloads only carry the customer ID.
	ByStripeCustomerID(ctx context.Context, customerID string) (*User, error)

	// SetStripeCustomerID records the provider customer reference exactly
	// once. Returns ErrCustomerIDAlreadySet if a value is already stored.
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error

	// Deactivate soft-deletes the user.
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// SubscriptionStore defines subscription persistence. All mutations after
// Create go through UpdateIf so the Lifecycle controller's compare-and-swap
// discipline holds regardless of backend.
type SubscriptionStore interface {
	// Create persists a new subscription row. Returns ErrSubscriptionExists
	// when the provider subscription ID is already stored - the external ID
	// carries a uniqueness constraint, which is what collapses duplicate
	// payments into updates of the existing row - or when the user already
	// holds an active subscription. Canceled rows stay behind as history
	// and never block a new subscription.
	Create(ctx context.Context, sub *Subscription) error

	ByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// ByUserID returns the user's most recent subscription or
	// ErrSubscriptionNotFound.
	ByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// ByProviderID looks a subscription up by its external identifier.
	ByProviderID(ctx context.Context, providerSubID string) (*Subscription, error)

	// UpdateIf writes the subscription's mutable fields in a single
	// conditional statement guarded on the previously observed updated_at.
	// Returns ErrConflict when the row changed in between, and
	// ErrSubscriptionNotFound when the row is absent. On success the
	// store assigns a fresh UpdatedAt to sub.
	UpdateIf(ctx context.Context, sub *Subscription, expectedUpdatedAt time.Time) error

	// ExpiringWithin lists subscriptions scheduled to lapse: cancel at
	// period end set, period ending inside the window, expiry notice not
	// yet sent.
	ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*Subscription, error)

	// MarkExpiryNotified records that the expiring-soon notice went out, so
	// repeated scans stay idempotent.
	MarkExpiryNotified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AttemptStore records payment outcomes. Append-only: there is no read-back
// path in the core and no mutation operation at all.
type AttemptStore interface {
	Record(ctx context.Context, attempt *PaymentAttempt) error
}
