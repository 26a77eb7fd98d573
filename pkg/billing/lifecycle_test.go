package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/billgate/billgate/pkg/billing"
	"github.com/billgate/billgate/pkg/notifier"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, email, userID)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, customerID, priceID)
	if v := args.Get(0); v != nil {
		return v.(*billing.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) RetrieveSubscription(ctx context.Context, providerSubID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, providerSubID)
	if v := args.Get(0); v != nil {
		return v.(*billing.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, providerSubID, cancel)
	if v := args.Get(0); v != nil {
		return v.(*billing.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) VerifyWebhook(payload []byte, signature string) (*billing.ProviderEvent, error) {
	args := m.Called(payload, signature)
	if v := args.Get(0); v != nil {
		return v.(*billing.ProviderEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// notifyRecorder captures notifications sent through the fire-and-forget
// dispatcher. Assertions go through eventually-style checks because
// deliveries land on background goroutines.
type notifyRecorder struct {
	mu    sync.Mutex
	kinds []notifier.Kind
}

func (r *notifyRecorder) Notify(_ context.Context, kind notifier.Kind, _ notifier.Recipient, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func (r *notifyRecorder) has(kind notifier.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type stubGranter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGranter) Grant(_ context.Context, _ uuid.UUID, _ billing.Platform) (string, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", time.Time{}, g.err
	}
	return "tok_test", time.Now().Add(time.Hour), nil
}

func (g *stubGranter) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

var testPlans = billing.StaticPlansSource{
	"standard": {
		ID:       "standard",
		Name:     "Standard",
		PriceID:  "price_123",
		Amount:   4900,
		Currency: "USD",
		Interval: "annual",
		Artifacts: map[billing.Platform]string{
			billing.PlatformWindows: "builds/standard-win.zip",
			billing.PlatformMac:     "builds/standard-mac.dmg",
		},
	},
}

type fixture struct {
	users    *billing.MemoryUserStore
	subs     *billing.MemorySubscriptionStore
	attempts *billing.MemoryAttemptStore
	provider *mockProvider
	notes    *notifyRecorder
	granter  *stubGranter
	lc       *billing.Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		users:    billing.NewMemoryUserStore(),
		subs:     billing.NewMemorySubscriptionStore(),
		attempts: billing.NewMemoryAttemptStore(),
		provider: &mockProvider{},
		notes:    &notifyRecorder{},
		granter:  &stubGranter{},
	}

	lc, err := billing.NewLifecycle(context.Background(), testPlans, f.provider,
		f.users, f.subs, f.attempts,
		billing.WithNotifier(f.notes),
		billing.WithTokenGranter(f.granter),
	)
	require.NoError(t, err)
	f.lc = lc
	return f
}

func (f *fixture) addUser(t *testing.T, customerID string) *billing.User {
	t.Helper()
	user := &billing.User{
		ID:               uuid.New(),
		Email:            uuid.NewString() + "@example.com",
		Platform:         billing.PlatformWindows,
		StripeCustomerID: customerID,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func (f *fixture) addSubscription(t *testing.T, userID uuid.UUID, status billing.Status, periodEnd time.Time) *billing.Subscription {
	t.Helper()
	sub := &billing.Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		ProviderSubID:      "sub_" + uuid.NewString(),
		PlanID:             "standard",
		Status:             status,
		CurrentPeriodStart: periodEnd.Add(-30 * 24 * time.Hour),
		CurrentPeriodEnd:   periodEnd,
	}
	require.NoError(t, f.subs.Create(context.Background(), sub))
	return sub
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestStartCheckout(t *testing.T) {
	t.Parallel()

	t.Run("creates customer and incomplete shell", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "")

		periodEnd := time.Now().Add(365 * 24 * time.Hour).UTC()
		f.provider.On("CreateCustomer", mock.Anything, user.Email, user.ID).Return("cus_123", nil)
		f.provider.On("CreateSubscription", mock.Anything, "cus_123", "price_123").Return(&billing.ProviderSubscription{
			ID:                        "sub_abc",
			CustomerID:                "cus_123",
			Status:                    "incomplete",
			CurrentPeriodStart:        time.Now().UTC(),
			CurrentPeriodEnd:          periodEnd,
			PaymentIntentClientSecret: "pi_secret",
		}, nil)

		checkout, err := f.lc.StartCheckout(context.Background(), user.ID, "standard")
		require.NoError(t, err)
		assert.Equal(t, "pi_secret", checkout.ClientSecret)
		assert.Equal(t, billing.StatusIncomplete, checkout.Subscription.Status)
		assert.Equal(t, "sub_abc", checkout.Subscription.ProviderSubID)

		// Customer reference sticks to the user record.
		stored, err := f.users.ByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_123", stored.StripeCustomerID)

		waitFor(t, func() bool { return f.notes.has(notifier.KindWelcome) }, "welcome notification")
		f.provider.AssertExpectations(t)
	})

	t.Run("reuses existing customer", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_existing")

		f.provider.On("CreateSubscription", mock.Anything, "cus_existing", "price_123").Return(&billing.ProviderSubscription{
			ID:               "sub_xyz",
			Status:           "incomplete",
			CurrentPeriodEnd: time.Now().Add(time.Hour).UTC(),
		}, nil)

		_, err := f.lc.StartCheckout(context.Background(), user.ID, "standard")
		require.NoError(t, err)
		f.provider.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")

		_, err := f.lc.StartCheckout(context.Background(), user.ID, "enterprise")
		assert.ErrorIs(t, err, billing.ErrPlanNotFound)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.lc.StartCheckout(context.Background(), uuid.New(), "standard")
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})

	t.Run("rejects second live subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(24*time.Hour).UTC())

		_, err := f.lc.StartCheckout(context.Background(), user.ID, "standard")
		assert.ErrorIs(t, err, billing.ErrSubscriptionExists)
	})

	t.Run("resubscribes after cancellation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")

		// The canceled row stays behind as history and must not block the
		// new checkout.
		old := f.addSubscription(t, user.ID, billing.StatusCanceled, time.Now().Add(-time.Hour).UTC())

		f.provider.On("CreateSubscription", mock.Anything, "cus_1", "price_123").Return(&billing.ProviderSubscription{
			ID:               "sub_second",
			CustomerID:       "cus_1",
			Status:           "incomplete",
			CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour).UTC(),
		}, nil)

		checkout, err := f.lc.StartCheckout(context.Background(), user.ID, "standard")
		require.NoError(t, err)
		assert.Equal(t, "sub_second", checkout.Subscription.ProviderSubID)
		assert.NotEqual(t, old.ID, checkout.Subscription.ID)

		current, err := f.subs.ByUserID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusIncomplete, current.Status)
		assert.Equal(t, "sub_second", current.ProviderSubID)
	})
}

func TestCancelAndReactivate(t *testing.T) {
	t.Parallel()

	t.Run("cancel schedules at period end", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(24*time.Hour).UTC())

		f.provider.On("SetCancelAtPeriodEnd", mock.Anything, sub.ProviderSubID, true).Return(&billing.ProviderSubscription{}, nil)

		updated, err := f.lc.Cancel(context.Background(), user.ID)
		require.NoError(t, err)
		assert.True(t, updated.CancelAtPeriodEnd)
		// Access continues until the paid period lapses.
		assert.Equal(t, billing.StatusActive, updated.Status)
		assert.True(t, updated.HasAccessAt(time.Now()))

		waitFor(t, func() bool { return f.notes.has(notifier.KindCancellationScheduled) }, "cancellation notice")
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(24*time.Hour).UTC())

		f.provider.On("SetCancelAtPeriodEnd", mock.Anything, sub.ProviderSubID, true).Return(&billing.ProviderSubscription{}, nil).Once()

		_, err := f.lc.Cancel(context.Background(), user.ID)
		require.NoError(t, err)
		_, err = f.lc.Cancel(context.Background(), user.ID)
		require.NoError(t, err)
		f.provider.AssertNumberOfCalls(t, "SetCancelAtPeriodEnd", 1)
	})

	t.Run("cancel requires active subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		f.addSubscription(t, user.ID, billing.StatusIncomplete, time.Now().Add(24*time.Hour).UTC())

		_, err := f.lc.Cancel(context.Background(), user.ID)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})

	t.Run("reactivate clears scheduled cancellation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(24*time.Hour).UTC())

		f.provider.On("SetCancelAtPeriodEnd", mock.Anything, sub.ProviderSubID, true).Return(&billing.ProviderSubscription{}, nil)
		f.provider.On("SetCancelAtPeriodEnd", mock.Anything, sub.ProviderSubID, false).Return(&billing.ProviderSubscription{}, nil)

		_, err := f.lc.Cancel(context.Background(), user.ID)
		require.NoError(t, err)

		updated, err := f.lc.Reactivate(context.Background(), user.ID)
		require.NoError(t, err)
		assert.False(t, updated.CancelAtPeriodEnd)
	})

	t.Run("reactivate without scheduled cancellation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(24*time.Hour).UTC())

		_, err := f.lc.Reactivate(context.Background(), user.ID)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})
}

func TestHandleProviderEvent_PaymentSucceeded(t *testing.T) {
	t.Parallel()

	t.Run("first payment activates and grants token", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusIncomplete, time.Now().Add(time.Hour).UTC())

		newEnd := time.Now().Add(365 * 24 * time.Hour).UTC()
		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_1",
			Type: billing.EventPaymentSucceeded,
			Invoice: &billing.ProviderInvoice{
				SubscriptionID: sub.ProviderSubID,
				Amount:         billing.Money{Amount: 4900, Currency: "usd"},
				PeriodStart:    time.Now().UTC(),
				PeriodEnd:      newEnd,
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, stored.Status)
		assert.WithinDuration(t, newEnd, stored.CurrentPeriodEnd, time.Second)

		attempts := f.attempts.All()
		require.Len(t, attempts, 1)
		assert.Equal(t, billing.AttemptSucceeded, attempts[0].Status)

		waitFor(t, func() bool { return f.granter.count() == 1 }, "download token granted")
		waitFor(t, func() bool { return f.notes.has(notifier.KindConfirmed) }, "confirmation notice")
		waitFor(t, func() bool { return f.notes.has(notifier.KindDownloadReady) }, "download-ready notice")
	})

	t.Run("renewal refreshes period without regranting", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(time.Hour).UTC())

		newEnd := time.Now().Add(365 * 24 * time.Hour).UTC()
		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_renew",
			Type: billing.EventPaymentSucceeded,
			Invoice: &billing.ProviderInvoice{
				SubscriptionID: sub.ProviderSubID,
				Amount:         billing.Money{Amount: 4900, Currency: "usd"},
				PeriodEnd:      newEnd,
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, newEnd, stored.CurrentPeriodEnd, time.Second)
		assert.Equal(t, 0, f.granter.count())
	})

	t.Run("missing invoice period falls back to provider view", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusIncomplete, time.Now().Add(time.Hour).UTC())

		newEnd := time.Now().Add(30 * 24 * time.Hour).UTC()
		f.provider.On("RetrieveSubscription", mock.Anything, sub.ProviderSubID).Return(&billing.ProviderSubscription{
			ID:                 sub.ProviderSubID,
			Status:             "active",
			CurrentPeriodStart: time.Now().UTC(),
			CurrentPeriodEnd:   newEnd,
		}, nil)

		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_2",
			Type: billing.EventPaymentSucceeded,
			Invoice: &billing.ProviderInvoice{
				SubscriptionID: sub.ProviderSubID,
				Amount:         billing.Money{Amount: 4900, Currency: "usd"},
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, stored.Status)
		assert.WithinDuration(t, newEnd, stored.CurrentPeriodEnd, time.Second)
		f.provider.AssertExpectations(t)
	})
}

func TestHandleProviderEvent_PaymentFailed(t *testing.T) {
	t.Parallel()

	t.Run("active subscription moves to past_due", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(24*time.Hour).UTC())

		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_fail",
			Type: billing.EventPaymentFailed,
			Invoice: &billing.ProviderInvoice{
				SubscriptionID: sub.ProviderSubID,
				Amount:         billing.Money{Amount: 4900, Currency: "usd"},
				FailureReason:  "card_declined",
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, stored.Status)

		attempts := f.attempts.All()
		require.Len(t, attempts, 1)
		assert.Equal(t, billing.AttemptFailed, attempts[0].Status)
		assert.Equal(t, "card_declined", attempts[0].FailureReason)

		waitFor(t, func() bool { return f.notes.has(notifier.KindPaymentFailed) }, "payment-failed notice")
	})

	t.Run("failed initial payment leaves shell incomplete", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusIncomplete, time.Now().Add(time.Hour).UTC())

		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_fail2",
			Type: billing.EventPaymentFailed,
			Invoice: &billing.ProviderInvoice{
				SubscriptionID: sub.ProviderSubID,
				Amount:         billing.Money{Amount: 4900, Currency: "usd"},
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusIncomplete, stored.Status)
		// The attempt is still on the audit trail.
		assert.Len(t, f.attempts.All(), 1)
	})
}

func TestHandleProviderEvent_SubscriptionCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := f.addUser(t, "cus_1")
	sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(24*time.Hour).UTC())

	canceledAt := time.Now().UTC()
	err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
		ID:   "evt_del",
		Type: billing.EventSubscriptionCanceled,
		Subscription: &billing.ProviderSubscription{
			ID:         sub.ProviderSubID,
			Status:     "canceled",
			CanceledAt: &canceledAt,
		},
	})
	require.NoError(t, err)

	stored, err := f.subs.ByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, stored.Status)
	require.NotNil(t, stored.CanceledAt)
	assert.False(t, stored.HasAccessAt(time.Now()))

	waitFor(t, func() bool { return f.notes.has(notifier.KindCancelled) }, "cancelled notice")

	// Redelivered cancellation is a clean no-op.
	err = f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
		ID:   "evt_del2",
		Type: billing.EventSubscriptionCanceled,
		Subscription: &billing.ProviderSubscription{
			ID:     sub.ProviderSubID,
			Status: "canceled",
		},
	})
	require.NoError(t, err)
}

func TestMonotonicGuard(t *testing.T) {
	t.Parallel()

	t.Run("stale update cannot rewind the period", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")

		// Renewal already landed: the stored row carries the new period end.
		newEnd := time.Now().Add(365 * 24 * time.Hour).UTC()
		sub := f.addSubscription(t, user.ID, billing.StatusActive, newEnd)

		// The earlier update arrives late with the old, shorter period.
		oldStart := time.Now().Add(-30 * 24 * time.Hour).UTC()
		oldEnd := time.Now().Add(time.Hour).UTC()
		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_late",
			Type: billing.EventSubscriptionUpdated,
			Subscription: &billing.ProviderSubscription{
				ID:                 sub.ProviderSubID,
				Status:             "active",
				CurrentPeriodStart: oldStart,
				CurrentPeriodEnd:   oldEnd,
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, newEnd, stored.CurrentPeriodEnd, time.Second, "period must not rewind")
		assert.Equal(t, billing.StatusActive, stored.Status)
	})

	t.Run("stale update cannot re-activate a canceled subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		periodEnd := time.Now().Add(time.Hour).UTC()
		sub := f.addSubscription(t, user.ID, billing.StatusCanceled, periodEnd)

		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_stale_active",
			Type: billing.EventSubscriptionUpdated,
			Subscription: &billing.ProviderSubscription{
				ID:               sub.ProviderSubID,
				Status:           "active",
				CurrentPeriodEnd: periodEnd,
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, stored.Status)
	})

	t.Run("stale delivery may still move toward terminal", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		periodEnd := time.Now().Add(time.Hour).UTC()
		sub := f.addSubscription(t, user.ID, billing.StatusActive, periodEnd)

		// Same period end, so the guard classifies the delivery as stale,
		// but a same-window cancellation still applies.
		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_cancel_same_period",
			Type: billing.EventSubscriptionUpdated,
			Subscription: &billing.ProviderSubscription{
				ID:               sub.ProviderSubID,
				Status:           "canceled",
				CurrentPeriodEnd: periodEnd,
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, stored.Status)
	})

	t.Run("same-period payment success recovers past_due", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := f.addUser(t, "cus_1")
		sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(time.Hour).UTC())

		// Renewal arrives with the payment already failed: the row stores
		// the new window and drops to past_due.
		start := time.Now().UTC()
		end := start.Add(30 * 24 * time.Hour)
		err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_renewal_past_due",
			Type: billing.EventSubscriptionUpdated,
			Subscription: &billing.ProviderSubscription{
				ID:                 sub.ProviderSubID,
				Status:             "past_due",
				CurrentPeriodStart: start,
				CurrentPeriodEnd:   end,
			},
		})
		require.NoError(t, err)

		stored, err := f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		require.Equal(t, billing.StatusPastDue, stored.Status)

		// The retry succeeds against the same billing window. The equal
		// period end classifies the delivery as stale, yet the row must
		// come back to active.
		err = f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
			ID:   "evt_retry_paid",
			Type: billing.EventPaymentSucceeded,
			Invoice: &billing.ProviderInvoice{
				SubscriptionID: sub.ProviderSubID,
				Amount:         billing.Money{Amount: 4900, Currency: "USD"},
				PeriodStart:    start,
				PeriodEnd:      end,
			},
		})
		require.NoError(t, err)

		stored, err = f.subs.ByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, stored.Status)
		assert.WithinDuration(t, end, stored.CurrentPeriodEnd, time.Second)
	})
}

func TestHandleProviderEvent_AdoptsUnknownSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := f.addUser(t, "cus_orphan")

	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC()
	err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
		ID:   "evt_adopt",
		Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.ProviderSubscription{
			ID:                 "sub_orphan",
			CustomerID:         "cus_orphan",
			Status:             "active",
			CurrentPeriodStart: time.Now().UTC(),
			CurrentPeriodEnd:   periodEnd,
		},
	})
	require.NoError(t, err)

	adopted, err := f.subs.ByProviderID(context.Background(), "sub_orphan")
	require.NoError(t, err)
	assert.Equal(t, user.ID, adopted.UserID)
	assert.Equal(t, billing.StatusActive, adopted.Status)

	waitFor(t, func() bool { return f.granter.count() == 1 }, "adopted active subscription grants token")
}

func TestHandleProviderEvent_UnknownType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.lc.HandleProviderEvent(context.Background(), &billing.ProviderEvent{
		ID:           "evt_unknown",
		Type:         billing.EventUnknown,
		ProviderType: "customer.updated",
	})
	require.NoError(t, err)
}

func TestNotifyExpiring(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := f.addUser(t, "cus_1")
	sub := f.addSubscription(t, user.ID, billing.StatusActive, time.Now().Add(48*time.Hour).UTC())

	// Only subscriptions scheduled to lapse get the notice.
	f.provider.On("SetCancelAtPeriodEnd", mock.Anything, sub.ProviderSubID, true).Return(&billing.ProviderSubscription{}, nil)
	_, err := f.lc.Cancel(context.Background(), user.ID)
	require.NoError(t, err)

	require.NoError(t, f.lc.NotifyExpiring(context.Background(), 72*time.Hour))
	waitFor(t, func() bool { return f.notes.has(notifier.KindExpiringSoon) }, "expiring-soon notice")

	// A second scan skips the already-notified row.
	stored, err := f.subs.ByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiryNotifiedAt)

	require.NoError(t, f.lc.NotifyExpiring(context.Background(), 72*time.Hour))
}
