package billing

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies the artifact build a user is entitled to download.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMac     Platform = "mac"
)

// ParsePlatform validates a raw platform string.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformWindows, PlatformMac:
		return Platform(s), nil
	default:
		return "", ErrInvalidPlatform
	}
}

// Status represents the current state of a subscription.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusPastDue, StatusCanceled:
		return true
	default:
		return false
	}
}

// Money represents a monetary amount in the smallest currency unit.
type Money struct {
	Amount   int64  // Amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// User is an account with billing linkage.
type User struct {
	ID               uuid.UUID
	Email            string // unique among active users
	Platform         Platform
	StripeCustomerID string // set at most once, never reassigned
	IsActive         bool   // soft-delete flag
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PaymentAttempt is an append-only audit record of a payment outcome.
// Rows are written once and never mutated.
type PaymentAttempt struct {
	ID                      uuid.UUID
	Email                   string
	Platform                Platform
	Amount                  Money
	Status                  string // succeeded or failed
	ProviderPaymentIntentID string
	FailureReason           string
	CreatedAt               time.Time
}

const (
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
)
