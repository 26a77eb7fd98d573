package webhook

import "errors"

var (
	// ErrEventNotFound is returned when a ledger row does not exist.
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrHandlerFailed wraps a dispatch failure recorded against the ledger row.
	ErrHandlerFailed = errors.New("webhook handler failed")
)
