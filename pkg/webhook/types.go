package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Outcome reports what ingestion did with a delivery.
type Outcome string

const (
	// OutcomeAccepted means the event was seen for the first time and dispatched.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeDuplicate means the event ID was already in the ledger and no
	// handler ran.
	OutcomeDuplicate Outcome = "duplicate"
)

// Event is a row in the dedup ledger. One row per external event ID,
// regardless of how many times the provider delivers it.
type Event struct {
	ID              uuid.UUID
	ExternalEventID string
	EventType       string
	Payload         []byte
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
	FailureReason   string
	Attempts        int
}

// Processed reports whether the event's handler has completed successfully.
func (e Event) Processed() bool {
	return e.ProcessedAt != nil
}
