package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billgate/billgate/pkg/pg"
)

// PgUserStore implements UserStore on PostgreSQL.
type PgUserStore struct {
	pool *pgxpool.Pool
}

func NewPgUserStore(pool *pgxpool.Pool) *PgUserStore {
	return &PgUserStore{pool: pool}
}

const userColumns = `id, email, platform, stripe_customer_id, is_active, created_at, updated_at`

func (s *PgUserStore) Create(ctx context.Context, user *User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, platform, stripe_customer_id, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING created_at, updated_at`,
		user.ID, user.Email, user.Platform, user.StripeCustomerID,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return err
	}
	user.IsActive = true
	return nil
}

func (s *PgUserStore) scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Platform, &u.StripeCustomerID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PgUserStore) ByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PgUserStore) ByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND is_active`, email))
}

func (s *PgUserStore) ByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID))
}

// SetStripeCustomerID sets the provider customer reference only when it is
// still empty; the condition is part of the statement so concurrent writers
// cannot both win.
func (s *PgUserStore) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1 AND stripe_customer_id = ''`,
		id, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.ByID(ctx, id); err != nil {
			return err
		}
		return ErrCustomerIDAlreadySet
	}
	return nil
}

func (s *PgUserStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// PgSubscriptionStore implements SubscriptionStore on PostgreSQL. UpdateIf
// relies on a single conditional UPDATE, which is what makes the lifecycle
// controller's compare-and-swap sound under concurrent webhook delivery.
type PgSubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewPgSubscriptionStore(pool *pgxpool.Pool) *PgSubscriptionStore {
	return &PgSubscriptionStore{pool: pool}
}

const subColumns = `id, user_id, provider_sub_id, plan_id, status,
	current_period_start, current_period_end, cancel_at_period_end,
	canceled_at, expiry_notified_at, created_at, updated_at`

func (s *PgSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions
			(id, user_id, provider_sub_id, plan_id, status,
			 current_period_start, current_period_end, cancel_at_period_end, canceled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		sub.ID, sub.UserID, sub.ProviderSubID, sub.PlanID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return ErrSubscriptionExists
	}
	return err
}

func (s *PgSubscriptionStore) scanSub(row interface{ Scan(...any) error }) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ProviderSubID, &sub.PlanID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.CanceledAt, &sub.ExpiryNotifiedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PgSubscriptionStore) ByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.scanSub(s.pool.QueryRow(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE id = $1`, id))
}

func (s *PgSubscriptionStore) ByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.scanSub(s.pool.QueryRow(ctx,
		`SELECT `+subColumns+` FROM subscriptions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID))
}

func (s *PgSubscriptionStore) ByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	return s.scanSub(s.pool.QueryRow(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE provider_sub_id = $1`, providerSubID))
}

// UpdateIf writes mutable fields only. Identifiers, ownership and
// provider_sub_id are deliberately absent from the SET clause.
func (s *PgSubscriptionStore) UpdateIf(ctx context.Context, sub *Subscription, expectedUpdatedAt time.Time) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			status = $3,
			current_period_start = $4,
			current_period_end = $5,
			cancel_at_period_end = $6,
			canceled_at = $7,
			updated_at = clock_timestamp()
		WHERE id = $1 AND updated_at = $2
		RETURNING updated_at`,
		sub.ID, expectedUpdatedAt,
		sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt,
	).Scan(&sub.UpdatedAt)
	if pg.IsNotFoundError(err) {
		// Distinguish a missing row from a concurrent update.
		if _, lookupErr := s.ByID(ctx, sub.ID); lookupErr != nil {
			return lookupErr
		}
		return ErrConflict
	}
	return err
}

func (s *PgSubscriptionStore) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE status = 'active'
		  AND cancel_at_period_end
		  AND expiry_notified_at IS NULL
		  AND current_period_end > $1
		  AND current_period_end <= $2`,
		now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := s.scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PgSubscriptionStore) MarkExpiryNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET expiry_notified_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// PgAttemptStore implements the append-only AttemptStore on PostgreSQL.
type PgAttemptStore struct {
	pool *pgxpool.Pool
}

func NewPgAttemptStore(pool *pgxpool.Pool) *PgAttemptStore {
	return &PgAttemptStore{pool: pool}
}

func (s *PgAttemptStore) Record(ctx context.Context, attempt *PaymentAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_attempts
			(id, email, platform, amount, currency, status, provider_payment_intent_id, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		attempt.ID, attempt.Email, attempt.Platform,
		attempt.Amount.Amount, attempt.Amount.Currency,
		attempt.Status, attempt.ProviderPaymentIntentID, attempt.FailureReason,
		attempt.CreatedAt,
	)
	return err
}
