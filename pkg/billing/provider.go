package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentProvider defines the minimal interface to the external payment
// system of record. The abstraction keeps the Lifecycle controller free of
// provider SDK types and allows an in-memory fake in tests.
//
// Implementations must bound every outbound call by the request context so
// a slow provider never holds a subscription transition open.
type PaymentProvider interface {
	// CreateCustomer registers a billing customer and returns the provider's
	// customer ID.
	CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error)

	// CreateSubscription starts a subscription in the provider, returning it
	// in whatever initial state the provider chose (normally incomplete,
	// pending payment confirmation).
	CreateSubscription(ctx context.Context, customerID, priceID string) (*ProviderSubscription, error)

	// RetrieveSubscription fetches the provider's current view of a
	// subscription.
	RetrieveSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error)

	// SetCancelAtPeriodEnd flips scheduled cancellation in the provider.
	SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) (*ProviderSubscription, error)

	// VerifyWebhook authenticates an inbound event against the shared
	// webhook secret and normalizes it. Returns ErrWebhookSignature for
	// payloads that fail verification; such events must never reach the
	// reconciler.
	VerifyWebhook(payload []byte, signature string) (*ProviderEvent, error)
}

// ProviderSubscription is the provider's view of a subscription, normalized
// away from SDK types.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time

	// PaymentIntentClientSecret is set on creation responses so the boundary
	// layer can hand it to the payment form. Empty elsewhere.
	PaymentIntentClientSecret string
}

// EventType is the normalized provider event type.
type EventType string

const (
	EventSubscriptionCreated  EventType = "subscription_created"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"

	// EventUnknown covers provider event types this version does not handle.
	// Accepted and recorded, no transition applied.
	EventUnknown EventType = "unknown"
)

// ProviderEvent is a normalized, signature-verified webhook event.
type ProviderEvent struct {
	ID           string    // provider's globally unique event ID, the dedup key
	Type         EventType // normalized type
	ProviderType string    // original provider event name
	Subscription *ProviderSubscription
	Invoice      *ProviderInvoice
	Raw          []byte // full verified payload, persisted in the ledger
}

// ProviderInvoice carries payment outcome data from invoice events.
type ProviderInvoice struct {
	SubscriptionID  string
	CustomerEmail   string
	PaymentIntentID string
	Amount          Money
	FailureReason   string

	// Period covered by the paid invoice line, when the provider included it.
	PeriodStart time.Time
	PeriodEnd   time.Time
}
