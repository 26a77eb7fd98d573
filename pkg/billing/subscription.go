package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the billing state machine instance for a user.
// Rows are created in StatusIncomplete when a payment intent is created,
// mutated only through the Lifecycle controller, and never physically
// deleted - cancellation is a status transition.
type Subscription struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	ProviderSubID      string // external subscription ID, immutable once set
	PlanID             string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	ExpiryNotifiedAt   *time.Time // set once the expiring-soon notice went out
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// HasAccessAt reports whether the subscription grants download access at the
// given instant: active status with a billing period still in the future.
func (s *Subscription) HasAccessAt(now time.Time) bool {
	return s.Status == StatusActive && s.CurrentPeriodEnd.After(now)
}

// StatusChange describes a partial subscription update. Nil fields keep
// their stored values; ApplyStatus never replaces whole rows.
type StatusChange struct {
	Status            *Status
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	CanceledAt        *time.Time

	// External marks provider-originated changes, which are subject to the
	// monotonic period guard. User-initiated changes carry no period data
	// and bypass the guard.
	External bool
}

func ptr[T any](v T) *T { return &v }
