package download_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billgate/billgate/pkg/billing"
	"github.com/billgate/billgate/pkg/download"
)

type staticAccess bool

func (a staticAccess) HasDownloadAccess(context.Context, uuid.UUID) (bool, error) {
	return bool(a), nil
}

type staticArtifacts map[billing.Platform]string

func (a staticArtifacts) PresignedURL(_ context.Context, platform billing.Platform) (string, error) {
	url, ok := a[platform]
	if !ok {
		return "", download.ErrNoArtifact
	}
	return url, nil
}

func newService(t *testing.T, access download.AccessChecker, opts ...download.ServiceOption) (*download.Service, *download.MemoryTokenStore) {
	t.Helper()
	store := download.NewMemoryTokenStore()
	svc := download.NewService(store, access, download.Config{TokenTTL: time.Hour}, opts...)
	return svc, store
}

func TestService_Issue(t *testing.T) {
	t.Parallel()

	t.Run("requires active subscription", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, staticAccess(false))

		_, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformMac)
		assert.ErrorIs(t, err, download.ErrForbidden)
	})

	t.Run("token expires one TTL after issuance", func(t *testing.T) {
		t.Parallel()
		issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		svc, _ := newService(t, staticAccess(true),
			download.WithServiceClock(func() time.Time { return issued }))

		token, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformWindows)
		require.NoError(t, err)
		assert.Equal(t, issued.Add(time.Hour), token.ExpiresAt)
		assert.NotEmpty(t, token.Value)
		assert.Nil(t, token.UsedAt)
	})

	t.Run("values are unique per issuance", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, staticAccess(true))

		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			token, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformMac)
			require.NoError(t, err)
			require.False(t, seen[token.Value], "token value repeated")
			seen[token.Value] = true
		}
	})
}

func TestService_Redeem(t *testing.T) {
	t.Parallel()

	t.Run("single use", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, staticAccess(true))

		token, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformMac)
		require.NoError(t, err)

		red, err := svc.Redeem(context.Background(), token.Value)
		require.NoError(t, err)
		require.NotNil(t, red.Token.UsedAt)

		_, err = svc.Redeem(context.Background(), token.Value)
		assert.ErrorIs(t, err, download.ErrTokenAlreadyUsed)
	})

	t.Run("unknown value", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, staticAccess(true))

		_, err := svc.Redeem(context.Background(), "no-such-token")
		assert.ErrorIs(t, err, download.ErrTokenNotFound)
	})

	t.Run("expiry boundary is exclusive", func(t *testing.T) {
		t.Parallel()
		issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		now := issued
		svc, _ := newService(t, staticAccess(true),
			download.WithServiceClock(func() time.Time { return now }))

		token, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformMac)
		require.NoError(t, err)

		// One instant before expiry still redeems; exactly at expiry does not.
		now = token.ExpiresAt.Add(-time.Nanosecond)
		red, err := svc.Redeem(context.Background(), token.Value)
		require.NoError(t, err)
		require.NotNil(t, red)

		second, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformMac)
		require.NoError(t, err)
		now = second.ExpiresAt
		_, err = svc.Redeem(context.Background(), second.Value)
		assert.ErrorIs(t, err, download.ErrTokenExpired)
	})

	t.Run("concurrent redemption succeeds exactly once", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, staticAccess(true))

		token, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformWindows)
		require.NoError(t, err)

		const redeemers = 32
		var wg sync.WaitGroup
		results := make(chan error, redeemers)
		for i := 0; i < redeemers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Redeem(context.Background(), token.Value)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins int
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, download.ErrTokenAlreadyUsed)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("resolves artifact URL for the token platform", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, staticAccess(true), download.WithArtifacts(staticArtifacts{
			billing.PlatformMac: "https://cdn.example.com/builds/mac.dmg?sig=abc",
		}))

		token, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformMac)
		require.NoError(t, err)

		red, err := svc.Redeem(context.Background(), token.Value)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/builds/mac.dmg?sig=abc", red.URL)
	})

	t.Run("missing artifact", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, staticAccess(true), download.WithArtifacts(staticArtifacts{}))

		token, err := svc.Issue(context.Background(), uuid.New(), billing.PlatformWindows)
		require.NoError(t, err)

		_, err = svc.Redeem(context.Background(), token.Value)
		assert.ErrorIs(t, err, download.ErrNoArtifact)
	})
}

func TestService_SweepExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, store := newService(t, staticAccess(true), download.WithServiceClock(clock))

	userID := uuid.New()
	expired, err := svc.Issue(context.Background(), userID, billing.PlatformMac)
	require.NoError(t, err)

	// Advance past the first token's expiry and issue a fresh one.
	now = now.Add(2 * time.Hour)
	fresh, err := svc.Issue(context.Background(), userID, billing.PlatformMac)
	require.NoError(t, err)

	require.NoError(t, svc.SweepExpired(context.Background()))

	_, err = store.ByValue(context.Background(), expired.Value)
	assert.ErrorIs(t, err, download.ErrTokenNotFound)
	_, err = store.ByValue(context.Background(), fresh.Value)
	assert.NoError(t, err)

	// Sweeping again is harmless.
	require.NoError(t, svc.SweepExpired(context.Background()))
}

func TestSubscriptionAccessChecker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	subs := billing.NewMemorySubscriptionStore()
	userID := uuid.New()

	checker := download.SubscriptionAccessChecker{Subs: subs}

	// No subscription at all.
	ok, err := checker.HasDownloadAccess(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	sub := &billing.Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		ProviderSubID:    "sub_1",
		Status:           billing.StatusActive,
		CurrentPeriodEnd: time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, subs.Create(ctx, sub))

	ok, err = checker.HasDownloadAccess(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Access ends when the paid period is behind us, active status or not.
	checker.Now = func() time.Time { return sub.CurrentPeriodEnd.Add(time.Minute) }
	ok, err = checker.HasDownloadAccess(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}
