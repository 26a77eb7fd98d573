package notifier

import (
	"context"
	"log/slog"
	"time"
)

// Kind enumerates the transactional notifications billgate sends.
type Kind string

const (
	KindWelcome               Kind = "welcome"
	KindConfirmed             Kind = "confirmed"
	KindPaymentFailed         Kind = "payment_failed"
	KindCancelled             Kind = "cancelled"
	KindCancellationScheduled Kind = "cancellation_scheduled"
	KindExpiringSoon          Kind = "expiring_soon"
	KindDownloadReady         Kind = "download_ready"
)

// Recipient identifies who receives a notification.
type Recipient struct {
	Email    string
	Platform string
}

// Notifier sends a notification of the given kind. Implementations decide
// rendering and transport; callers supply template data as flat strings.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, rcpt Recipient, data map[string]string) error
}

// dispatchTimeout bounds a background delivery so a stuck transport cannot
// leak goroutines indefinitely.
const dispatchTimeout = 15 * time.Second

// Dispatch sends a notification on a background goroutine, detached from the
// caller's context. Failures are logged and dropped.
func Dispatch(log *slog.Logger, n Notifier, kind Kind, rcpt Recipient, data map[string]string) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := n.Notify(ctx, kind, rcpt, data); err != nil {
			log.Error("notification delivery failed",
				"kind", string(kind),
				"recipient", rcpt.Email,
				"error", err,
			)
		}
	}()
}
