package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore is an in-memory UserStore for tests and the dev profile.
// Safe for concurrent use.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uuid.UUID]*User)}
}

func (s *MemoryUserStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.IsActive && strings.EqualFold(u.Email, user.Email) {
			return ErrEmailTaken
		}
	}

	now := time.Now().UTC()
	clone := *user
	clone.IsActive = true
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.users[clone.ID] = &clone
	*user = clone
	return nil
}

func (s *MemoryUserStore) ByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *MemoryUserStore) ByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.IsActive && strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStore) ByStripeCustomerID(_ context.Context, customerID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.StripeCustomerID == customerID && customerID != "" {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStore) SetStripeCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if u.StripeCustomerID != "" {
		return ErrCustomerIDAlreadySet
	}
	u.StripeCustomerID = customerID
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryUserStore) Deactivate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsActive = false
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// MemorySubscriptionStore is an in-memory SubscriptionStore. UpdateIf
// mirrors the PostgreSQL conditional update: the write only lands when the
// stored updated_at still matches the caller's expectation.
type MemorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (s *MemorySubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subs {
		if existing.ProviderSubID != "" && existing.ProviderSubID == sub.ProviderSubID {
			return ErrSubscriptionExists
		}
		// Mirrors the partial unique index: one active row per user, while
		// canceled history rows never block a new subscription.
		if sub.Status == StatusActive && existing.UserID == sub.UserID && existing.Status == StatusActive {
			return ErrSubscriptionExists
		}
	}

	now := time.Now().UTC()
	clone := *sub
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.subs[clone.ID] = &clone
	*sub = clone
	return nil
}

func (s *MemorySubscriptionStore) ByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	clone := *sub
	return &clone, nil
}

func (s *MemorySubscriptionStore) ByUserID(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	clone := *latest
	return &clone, nil
}

func (s *MemorySubscriptionStore) ByProviderID(_ context.Context, providerSubID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.ProviderSubID == providerSubID && providerSubID != "" {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemorySubscriptionStore) UpdateIf(_ context.Context, sub *Subscription, expectedUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return ErrConflict
	}
	if sub.Status == StatusActive && stored.Status != StatusActive {
		for id, other := range s.subs {
			if id != sub.ID && other.UserID == stored.UserID && other.Status == StatusActive {
				return ErrSubscriptionExists
			}
		}
	}

	now := time.Now().UTC()
	// Guarantee the CAS token moves even when two writes land within the
	// clock's resolution.
	if !now.After(stored.UpdatedAt) {
		now = stored.UpdatedAt.Add(time.Nanosecond)
	}

	clone := *sub
	clone.ProviderSubID = stored.ProviderSubID     // immutable once set
	clone.ExpiryNotifiedAt = stored.ExpiryNotifiedAt // owned by MarkExpiryNotified
	clone.CreatedAt = stored.CreatedAt
	clone.UpdatedAt = now
	s.subs[clone.ID] = &clone
	*sub = clone
	return nil
}

func (s *MemorySubscriptionStore) ExpiringWithin(_ context.Context, now time.Time, window time.Duration) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Subscription
	cutoff := now.Add(window)
	for _, sub := range s.subs {
		if sub.Status == StatusActive && sub.CancelAtPeriodEnd &&
			sub.ExpiryNotifiedAt == nil &&
			sub.CurrentPeriodEnd.After(now) && !sub.CurrentPeriodEnd.After(cutoff) {
			clone := *sub
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemorySubscriptionStore) MarkExpiryNotified(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.ExpiryNotifiedAt = &at
	return nil
}

// MemoryAttemptStore is an in-memory append-only AttemptStore.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts []*PaymentAttempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{}
}

func (s *MemoryAttemptStore) Record(_ context.Context, attempt *PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *attempt
	s.attempts = append(s.attempts, &clone)
	return nil
}

// All returns the recorded attempts, for test assertions.
func (s *MemoryAttemptStore) All() []*PaymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*PaymentAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}
