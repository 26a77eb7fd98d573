package notifier

import (
	"context"
	"log/slog"
)

// DevSender logs notifications instead of delivering them. Used for local
// development and as the default in tests.
type DevSender struct {
	Log *slog.Logger
}

func (d DevSender) Notify(ctx context.Context, kind Kind, rcpt Recipient, data map[string]string) error {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "notification",
		"kind", string(kind),
		"recipient", rcpt.Email,
		"platform", rcpt.Platform,
		"data", data,
	)
	return nil
}
