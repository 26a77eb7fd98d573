package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billgate/billgate/pkg/billing"
)

// Applier receives first-seen events for processing. *billing.Lifecycle
// satisfies it.
type Applier interface {
	HandleProviderEvent(ctx context.Context, ev *billing.ProviderEvent) error
}

// EventDecoder turns a stored webhook payload back into a normalized event
// during replay. *billing.StripeProvider satisfies it.
type EventDecoder interface {
	ParseEvent(payload []byte) (*billing.ProviderEvent, error)
}

// Reconciler is the dedup-then-dispatch pipeline between the webhook
// endpoint and the subscription lifecycle.
type Reconciler struct {
	store   EventStore
	applier Applier
	decoder EventDecoder
	log     *slog.Logger
	clock   func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger sets the logger used for ingestion and replay reporting.
func WithLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock overrides the time source. For tests.
func WithClock(clock func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewReconciler creates a Reconciler. Panics if store, applier or decoder is
// nil since the pipeline cannot function without them.
func NewReconciler(store EventStore, applier Applier, decoder EventDecoder, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("webhook: event store is required")
	}
	if applier == nil {
		panic("webhook: applier is required")
	}
	if decoder == nil {
		panic("webhook: event decoder is required")
	}

	r := &Reconciler{
		store:   store,
		applier: applier,
		decoder: decoder,
		log:     slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest records and dispatches a verified provider event. The payload must
// be the raw webhook body so failed events can be replayed later.
//
// Redeliveries of an already-seen event ID return OutcomeDuplicate without
// running any handler, regardless of whether the first attempt succeeded.
// Failed first attempts are retried through ReprocessFailed, not through
// provider redelivery, so that retries and duplicates stay distinguishable.
func (r *Reconciler) Ingest(ctx context.Context, ev *billing.ProviderEvent, payload []byte) (Outcome, error) {
	if ev == nil {
		return "", errors.New("webhook: nil event")
	}
	if ev.ID == "" {
		return "", errors.New("webhook: event has no ID")
	}

	row := Event{
		ID:              uuid.New(),
		ExternalEventID: ev.ID,
		EventType:       ev.ProviderType,
		Payload:         payload,
		ReceivedAt:      r.clock().UTC(),
	}

	inserted, err := r.store.InsertIfAbsent(ctx, row)
	if err != nil {
		return "", fmt.Errorf("record webhook event: %w", err)
	}
	if !inserted {
		r.log.InfoContext(ctx, "duplicate webhook delivery ignored",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.ProviderType))
		return OutcomeDuplicate, nil
	}

	if ev.Type == billing.EventUnknown {
		r.log.InfoContext(ctx, "unhandled webhook event type accepted",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.ProviderType))
		if err := r.store.MarkProcessed(ctx, ev.ID); err != nil {
			return "", fmt.Errorf("mark webhook event processed: %w", err)
		}
		return OutcomeAccepted, nil
	}

	if err := r.dispatch(ctx, ev); err != nil {
		return OutcomeAccepted, err
	}
	return OutcomeAccepted, nil
}

// ReprocessFailed replays ledger rows whose handlers failed. Each row is
// decoded from its stored payload and dispatched again; rows that fail again
// stay failed with an updated reason. Returns the number of rows that
// succeeded this pass.
func (r *Reconciler) ReprocessFailed(ctx context.Context, limit int) (int, error) {
	rows, err := r.store.ListFailed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list failed webhook events: %w", err)
	}

	var recovered int
	for _, row := range rows {
		ev, err := r.decoder.ParseEvent(row.Payload)
		if err != nil {
			r.log.ErrorContext(ctx, "stored webhook payload no longer decodes",
				slog.String("event_id", row.ExternalEventID),
				slog.String("error", err.Error()))
			if err := r.store.MarkFailed(ctx, row.ExternalEventID, err.Error()); err != nil {
				return recovered, fmt.Errorf("mark webhook event failed: %w", err)
			}
			continue
		}

		if err := r.dispatch(ctx, ev); err != nil {
			continue
		}
		recovered++
	}
	return recovered, nil
}

// dispatch runs the applier and records the result on the ledger row.
func (r *Reconciler) dispatch(ctx context.Context, ev *billing.ProviderEvent) error {
	if err := r.applier.HandleProviderEvent(ctx, ev); err != nil {
		r.log.ErrorContext(ctx, "webhook event handler failed",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.ProviderType),
			slog.String("error", err.Error()))
		if markErr := r.store.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
			return errors.Join(ErrHandlerFailed, err, markErr)
		}
		return errors.Join(ErrHandlerFailed, err)
	}

	if err := r.store.MarkProcessed(ctx, ev.ID); err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}
