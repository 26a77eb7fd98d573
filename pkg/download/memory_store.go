package download

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTokenStore is an in-memory TokenStore for tests and the dev
// profile. Redeem is a check-and-set under the store lock, mirroring the
// conditional UPDATE of the PostgreSQL implementation.
type MemoryTokenStore struct {
	mu      sync.Mutex
	byValue map[string]*Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{byValue: make(map[string]*Token)}
}

func (s *MemoryTokenStore) Create(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *token
	s.byValue[clone.Value] = &clone
	return nil
}

func (s *MemoryTokenStore) ByValue(_ context.Context, value string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byValue[value]
	if !ok {
		return nil, ErrTokenNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *MemoryTokenStore) Redeem(_ context.Context, value string, now time.Time) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byValue[value]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if t.UsedAt != nil {
		return nil, ErrTokenAlreadyUsed
	}
	if !now.Before(t.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	used := now
	t.UsedAt = &used
	clone := *t
	return &clone, nil
}

func (s *MemoryTokenStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for value, t := range s.byValue {
		if t.ExpiresAt.Before(now) {
			delete(s.byValue, value)
			n++
		}
	}
	return n, nil
}

func (s *MemoryTokenStore) ByUserID(_ context.Context, userID uuid.UUID) ([]*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Token
	for _, t := range s.byValue {
		if t.UserID == userID {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}
