package download

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billgate/billgate/pkg/billing"
)

// AccessChecker answers whether a user currently holds download access.
// Implemented over the billing subscription store; declared here so the
// package depends on the capability, not the billing internals.
type AccessChecker interface {
	HasDownloadAccess(ctx context.Context, userID uuid.UUID) (bool, error)
}

// SubscriptionAccessChecker adapts a billing.SubscriptionStore to
// AccessChecker: access means an active subscription with a billing period
// still in the future.
type SubscriptionAccessChecker struct {
	Subs billing.SubscriptionStore
	Now  func() time.Time
}

func (c SubscriptionAccessChecker) HasDownloadAccess(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := c.Subs.ByUserID(ctx, userID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if c.Now != nil {
		now = c.Now()
	}
	return sub.HasAccessAt(now), nil
}

// Config holds token issuance settings.
type Config struct {
	TokenTTL      time.Duration `env:"DOWNLOAD_TOKEN_TTL" envDefault:"1h"`
	SweepInterval time.Duration `env:"DOWNLOAD_SWEEP_INTERVAL" envDefault:"1m"`
}

// Service issues, redeems and sweeps download tokens.
type Service struct {
	store     TokenStore
	access    AccessChecker
	artifacts ArtifactStore
	ttl       time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithArtifacts sets the artifact resolver used to produce download URLs on
// redemption. Without one, Redeem returns the token alone.
func WithArtifacts(a ArtifactStore) ServiceOption {
	return func(s *Service) { s.artifacts = a }
}

func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceClock overrides the time source, for tests with fixed times.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the token service. Panics on nil required dependencies
// to fail fast during initialization.
func NewService(store TokenStore, access AccessChecker, cfg Config, opts ...ServiceOption) *Service {
	if store == nil {
		panic("download: TokenStore is required")
	}
	if access == nil {
		panic("download: AccessChecker is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	s := &Service{
		store:  store,
		access: access,
		ttl:    ttl,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a fresh download token for the user. Fails with
// ErrForbidden unless the user currently holds an active subscription.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID, platform billing.Platform) (*Token, error) {
	ok, err := s.access.HasDownloadAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	value, err := generateValue()
	if err != nil {
		return nil, err
	}

	now := s.now()
	token := &Token{
		ID:        uuid.New(),
		UserID:    userID,
		Value:     value,
		Platform:  platform,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Grant implements billing.TokenGranter so subscription activation can hand
// out a token without the billing package importing this one.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, platform billing.Platform) (string, time.Time, error) {
	token, err := s.Issue(ctx, userID, platform)
	if err != nil {
		return "", time.Time{}, err
	}
	return token.Value, token.ExpiresAt, nil
}

// Redemption is a successfully redeemed token plus the resolved artifact
// location, when an artifact store is configured.
type Redemption struct {
	Token *Token
	URL   string // presigned artifact URL, empty without an artifact store
}

// Redeem consumes a token. The usedAt write is a single conditional update,
// so concurrent calls with the same value produce exactly one Redemption;
// the rest fail with ErrTokenAlreadyUsed (or ErrTokenExpired once past the
// exclusive expiry boundary).
func (s *Service) Redeem(ctx context.Context, value string) (*Redemption, error) {
	token, err := s.store.Redeem(ctx, value, s.now())
	if err != nil {
		return nil, err
	}

	red := &Redemption{Token: token}
	if s.artifacts != nil {
		url, err := s.artifacts.PresignedURL(ctx, token.Platform)
		if err != nil {
			// The token is spent either way; surfacing the resolution error
			// tells the caller to retry the download out of band.
			return nil, err
		}
		red.URL = url
	}
	return red, nil
}

// SweepExpired removes expired tokens. Idempotent and order-independent, so
// overlapping schedule ticks are harmless.
func (s *Service) SweepExpired(ctx context.Context) error {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.DebugContext(ctx, "swept expired download tokens", "count", n)
	}
	return nil
}

var _ billing.TokenGranter = (*Service)(nil)
