package webhook

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billgate/billgate/pkg/pg"
)

// PgEventStore implements EventStore on PostgreSQL. The unique index on
// external_event_id is what makes InsertIfAbsent race-safe.
type PgEventStore struct {
	pool *pgxpool.Pool
}

func NewPgEventStore(pool *pgxpool.Pool) *PgEventStore {
	return &PgEventStore{pool: pool}
}

func (s *PgEventStore) InsertIfAbsent(ctx context.Context, ev Event) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, external_event_id, event_type, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_event_id) DO NOTHING`,
		ev.ID, ev.ExternalEventID, ev.EventType, ev.Payload, ev.ReceivedAt)
	if pg.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgEventStore) ByExternalID(ctx context.Context, externalEventID string) (Event, error) {
	var ev Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, external_event_id, event_type, payload, received_at, processed_at, failure_reason, attempts
		FROM webhook_events WHERE external_event_id = $1`,
		externalEventID,
	).Scan(&ev.ID, &ev.ExternalEventID, &ev.EventType, &ev.Payload, &ev.ReceivedAt,
		&ev.ProcessedAt, &ev.FailureReason, &ev.Attempts)
	if pg.IsNotFoundError(err) {
		return Event{}, ErrEventNotFound
	}
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (s *PgEventStore) MarkProcessed(ctx context.Context, externalEventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events SET processed_at = now(), failure_reason = ''
		WHERE external_event_id = $1`,
		externalEventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *PgEventStore) MarkFailed(ctx context.Context, externalEventID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events SET failure_reason = $2, attempts = attempts + 1
		WHERE external_event_id = $1`,
		externalEventID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *PgEventStore) ListFailed(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_event_id, event_type, payload, received_at, processed_at, failure_reason, attempts
		FROM webhook_events
		WHERE processed_at IS NULL AND attempts > 0
		ORDER BY received_at
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.ExternalEventID, &ev.EventType, &ev.Payload, &ev.ReceivedAt,
			&ev.ProcessedAt, &ev.FailureReason, &ev.Attempts); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
