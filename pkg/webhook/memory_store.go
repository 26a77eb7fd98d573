package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryEventStore is an in-memory EventStore for tests and local
// development. The mutex plays the role the unique constraint plays in the
// Postgres store: concurrent inserts of the same external ID resolve to one
// winner.
type MemoryEventStore struct {
	mu     sync.Mutex
	events map[string]Event
}

// NewMemoryEventStore creates an empty in-memory event ledger.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]Event)}
}

func (s *MemoryEventStore) InsertIfAbsent(_ context.Context, ev Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ExternalEventID]; ok {
		return false, nil
	}
	s.events[ev.ExternalEventID] = ev
	return true, nil
}

func (s *MemoryEventStore) ByExternalID(_ context.Context, externalEventID string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[externalEventID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return ev, nil
}

func (s *MemoryEventStore) MarkProcessed(_ context.Context, externalEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[externalEventID]
	if !ok {
		return ErrEventNotFound
	}
	now := time.Now().UTC()
	ev.ProcessedAt = &now
	ev.FailureReason = ""
	s.events[externalEventID] = ev
	return nil
}

func (s *MemoryEventStore) MarkFailed(_ context.Context, externalEventID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[externalEventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.FailureReason = reason
	ev.Attempts++
	s.events[externalEventID] = ev
	return nil
}

func (s *MemoryEventStore) ListFailed(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.events {
		if ev.ProcessedAt == nil && ev.Attempts > 0 {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
