package billing

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrCustomerIDAlreadySet = errors.New("provider customer ID already set")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")

	// ErrConflict signals concurrent-update contention on a subscription row.
	// Callers retry the whole operation, not just the storage write.
	ErrConflict = errors.New("subscription modified concurrently")

	// ErrInvalidTransition signals an action that is not permitted in the
	// subscription's current state, e.g. reactivating a cancelled subscription.
	ErrInvalidTransition = errors.New("transition not allowed in current state")

	ErrPlanNotFound             = errors.New("billing plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid billing plan configuration")
	ErrInvalidPlatform          = errors.New("unknown platform")

	// ErrProvider wraps payment provider failures. The wrapped condition is
	// retryable from the caller's perspective; provider error text never
	// escapes the package's public operations beyond this sentinel.
	ErrProvider = errors.New("payment provider error")

	// ErrWebhookSignature marks webhook payloads whose signature did not
	// verify against the shared secret.
	ErrWebhookSignature = errors.New("webhook signature verification failed")
)
