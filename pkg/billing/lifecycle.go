package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/billgate/billgate/pkg/logger"
	"github.com/billgate/billgate/pkg/notifier"
)

// TokenGranter issues a download token for a user. Implemented by the
// download package; declared here so billing does not depend on it.
type TokenGranter interface {
	Grant(ctx context.Context, userID uuid.UUID, platform Platform) (value string, expiresAt time.Time, err error)
}

// applyRetries bounds internal retries of event-driven transitions on
// ErrConflict. Each retry re-reads the row, so losing the race to another
// writer converges instead of spinning.
const applyRetries = 3

// Lifecycle is the authoritative controller for subscription state. Direct
// user actions and webhook-driven transitions both serialize through
// ApplyStatus, one conditional update per subscription row.
type Lifecycle struct {
	users    UserStore
	subs     SubscriptionStore
	attempts AttemptStore
	plans    map[string]Plan
	provider PaymentProvider
	notify   notifier.Notifier
	tokens   TokenGranter
	log      *slog.Logger
	now      func() time.Time
}

// LifecycleOption configures optional Lifecycle collaborators.
type LifecycleOption func(*Lifecycle)

// WithNotifier sets the notification sender. Without one, transitions apply
// silently.
func WithNotifier(n notifier.Notifier) LifecycleOption {
	return func(l *Lifecycle) { l.notify = n }
}

// WithTokenGranter sets the download token issuer invoked on activation.
func WithTokenGranter(g TokenGranter) LifecycleOption {
	return func(l *Lifecycle) { l.tokens = g }
}

func WithLogger(log *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock overrides the time source, for tests with fixed time values.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLifecycle creates the subscription lifecycle controller. Panics on nil
// required dependencies to fail fast during initialization.
func NewLifecycle(
	ctx context.Context,
	src PlansSource,
	provider PaymentProvider,
	users UserStore,
	subs SubscriptionStore,
	attempts AttemptStore,
	opts ...LifecycleOption,
) (*Lifecycle, error) {
	if src == nil {
		panic("billing: PlansSource is required")
	}
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if users == nil || subs == nil || attempts == nil {
		panic("billing: stores are required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}

	l := &Lifecycle{
		users:    users,
		subs:     subs,
		attempts: attempts,
		plans:    plans,
		provider: provider,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Checkout is the result of starting a subscription purchase.
type Checkout struct {
	Subscription *Subscription
	// ClientSecret confirms the provider's payment intent client-side.
	ClientSecret string
}

// StartCheckout creates a provider subscription for the plan and persists
// the local shell in StatusIncomplete. The shell is promoted to active by
// the webhook reconciler once the provider reports a successful payment.
func (l *Lifecycle) StartCheckout(ctx context.Context, userID uuid.UUID, planID string) (*Checkout, error) {
	user, err := l.users.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan, ok := l.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}

	// A user with a live subscription updates it through the provider
	// instead of stacking a second one.
	if existing, err := l.subs.ByUserID(ctx, userID); err == nil {
		if existing.HasAccessAt(l.now()) || existing.Status == StatusPastDue {
			return nil, ErrSubscriptionExists
		}
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		customerID, err = l.provider.CreateCustomer(ctx, user.Email, user.ID)
		if err != nil {
			return nil, err
		}
		if err := l.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
			// Lost a race with a concurrent checkout; the stored value wins
			// because the customer reference is set at most once.
			if !errors.Is(err, ErrCustomerIDAlreadySet) {
				return nil, err
			}
			stored, rerr := l.users.ByID(ctx, user.ID)
			if rerr != nil {
				return nil, rerr
			}
			customerID = stored.StripeCustomerID
		} else {
			l.dispatch(notifier.KindWelcome, user, nil)
		}
	}

	ps, err := l.provider.CreateSubscription(ctx, customerID, plan.PriceID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             user.ID,
		ProviderSubID:      ps.ID,
		PlanID:             plan.ID,
		Status:             StatusIncomplete,
		CurrentPeriodStart: ps.CurrentPeriodStart,
		CurrentPeriodEnd:   ps.CurrentPeriodEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := l.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	return &Checkout{
		Subscription: sub,
		ClientSecret: ps.PaymentIntentClientSecret,
	}, nil
}

// Cancel schedules cancellation at period end. The subscription stays active
// until the paid period lapses. Idempotent: cancelling an already scheduled
// subscription is a no-op.
func (l *Lifecycle) Cancel(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := l.subs.ByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, ErrInvalidTransition
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if _, err := l.provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubID, true); err != nil {
		return nil, err
	}

	updated, err := l.ApplyStatus(ctx, sub.ID, StatusChange{CancelAtPeriodEnd: ptr(true)})
	if err != nil {
		return nil, err
	}

	if user, uerr := l.users.ByID(ctx, userID); uerr == nil {
		l.dispatch(notifier.KindCancellationScheduled, user, map[string]string{
			"period_end": updated.CurrentPeriodEnd.Format(time.RFC1123),
		})
	}
	return updated, nil
}

// Reactivate undoes a scheduled cancellation before the period lapses.
func (l *Lifecycle) Reactivate(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := l.subs.ByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() || !sub.CancelAtPeriodEnd {
		return nil, ErrInvalidTransition
	}

	if _, err := l.provider.SetCancelAtPeriodEnd(ctx, sub.ProviderSubID, false); err != nil {
		return nil, err
	}

	updated, err := l.ApplyStatus(ctx, sub.ID, StatusChange{CancelAtPeriodEnd: ptr(false)})
	if err != nil {
		return nil, err
	}

	if user, uerr := l.users.ByID(ctx, userID); uerr == nil {
		l.dispatch(notifier.KindConfirmed, user, nil)
	}
	return updated, nil
}

// ApplyStatus is the single transition primitive. It merges the partial
// change into the stored row under the monotonic guard and writes it with a
// compare-and-swap keyed on the previously read updated_at. Returns
// ErrConflict when another writer got there first.
func (l *Lifecycle) ApplyStatus(ctx context.Context, subID uuid.UUID, ch StatusChange) (*Subscription, error) {
	sub, err := l.subs.ByID(ctx, subID)
	if err != nil {
		return nil, err
	}

	merged, changed := mergeChange(sub, ch)
	if !changed {
		return sub, nil
	}

	if err := l.subs.UpdateIf(ctx, merged, sub.UpdatedAt); err != nil {
		return nil, err
	}
	return merged, nil
}

// applyStatusRetry retries ApplyStatus on contention. Used by event handlers
// where redelivery semantics make an internal retry cheaper than bouncing
// the whole webhook.
func (l *Lifecycle) applyStatusRetry(ctx context.Context, subID uuid.UUID, ch StatusChange) (*Subscription, error) {
	var lastErr error
	for i := 0; i < applyRetries; i++ {
		sub, err := l.ApplyStatus(ctx, subID, ch)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// mergeChange applies the partial change to a copy of cur, honoring the
// monotonic guard for external updates. The second return reports whether
// anything actually changed.
func mergeChange(cur *Subscription, ch StatusChange) (*Subscription, bool) {
	next := *cur

	// An external delivery that does not move the billing period strictly
	// forward is stale or replayed. It can never rewind the period or
	// resurrect a canceled row, but status flips within the current window
	// still apply: a payment retry that succeeds must be able to recover a
	// past_due row, and a same-period failure must still demote it.
	stale := ch.External && ch.PeriodEnd != nil && !ch.PeriodEnd.After(cur.CurrentPeriodEnd)

	if stale {
		if ch.Status != nil && cur.Status != StatusCanceled && *ch.Status != StatusIncomplete {
			next.Status = *ch.Status
			if ch.CanceledAt != nil {
				next.CanceledAt = ch.CanceledAt
			}
			if ch.CancelAtPeriodEnd != nil {
				next.CancelAtPeriodEnd = *ch.CancelAtPeriodEnd
			}
		}
	} else {
		if ch.Status != nil {
			next.Status = *ch.Status
		}
		if ch.PeriodStart != nil {
			next.CurrentPeriodStart = *ch.PeriodStart
		}
		if ch.PeriodEnd != nil {
			next.CurrentPeriodEnd = *ch.PeriodEnd
		}
		if ch.CancelAtPeriodEnd != nil {
			next.CancelAtPeriodEnd = *ch.CancelAtPeriodEnd
		}
		if ch.CanceledAt != nil {
			next.CanceledAt = ch.CanceledAt
		}
	}

	changed := next.Status != cur.Status ||
		!next.CurrentPeriodStart.Equal(cur.CurrentPeriodStart) ||
		!next.CurrentPeriodEnd.Equal(cur.CurrentPeriodEnd) ||
		next.CancelAtPeriodEnd != cur.CancelAtPeriodEnd ||
		!equalTimePtr(next.CanceledAt, cur.CanceledAt)

	return &next, changed
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// HandleProviderEvent dispatches a verified, deduplicated provider event to
// the matching transition. Called by the webhook reconciler after the dedup
// insert succeeded; redelivery never reaches this method twice.
func (l *Lifecycle) HandleProviderEvent(ctx context.Context, ev *ProviderEvent) error {
	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return l.handleSubscriptionUpdate(ctx, ev.Subscription)
	case EventSubscriptionCanceled:
		return l.handleSubscriptionCanceled(ctx, ev.Subscription)
	case EventPaymentSucceeded:
		return l.handlePaymentSucceeded(ctx, ev.Invoice)
	case EventPaymentFailed:
		return l.handlePaymentFailed(ctx, ev.Invoice)
	default:
		// Forward compatibility with provider event additions: accept, log,
		// apply nothing.
		l.log.InfoContext(ctx, "ignoring unhandled provider event",
			logger.EventID(ev.ID), logger.EventType(ev.ProviderType))
		return nil
	}
}

// mapProviderStatus translates provider status strings into local states.
func mapProviderStatus(s string) (Status, bool) {
	switch s {
	case "active", "trialing":
		return StatusActive, true
	case "past_due", "unpaid":
		return StatusPastDue, true
	case "canceled", "incomplete_expired":
		return StatusCanceled, true
	case "incomplete":
		return StatusIncomplete, true
	default:
		return "", false
	}
}

func (l *Lifecycle) handleSubscriptionUpdate(ctx context.Context, ps *ProviderSubscription) error {
	if ps == nil {
		return nil
	}

	sub, err := l.subs.ByProviderID(ctx, ps.ID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return l.adoptProviderSubscription(ctx, ps)
	}
	if err != nil {
		return err
	}

	status, ok := mapProviderStatus(ps.Status)
	if !ok {
		l.log.WarnContext(ctx, "unknown provider subscription status",
			logger.SubscriptionID(sub.ID), "provider_status", ps.Status)
		return nil
	}

	prev := sub.Status
	updated, err := l.applyStatusRetry(ctx, sub.ID, StatusChange{
		External:          true,
		Status:            &status,
		PeriodStart:       &ps.CurrentPeriodStart,
		PeriodEnd:         &ps.CurrentPeriodEnd,
		CancelAtPeriodEnd: &ps.CancelAtPeriodEnd,
		CanceledAt:        ps.CanceledAt,
	})
	if err != nil {
		return err
	}

	if prev == StatusIncomplete && updated.Status == StatusActive {
		l.activationSideEffects(ctx, updated)
	}
	return nil
}

// adoptProviderSubscription creates a local row for a provider subscription
// with no shell, which happens when checkout completed against a customer
// whose shell write was lost. The owner is resolved through the provider
// customer reference.
func (l *Lifecycle) adoptProviderSubscription(ctx context.Context, ps *ProviderSubscription) error {
	user, err := l.users.ByStripeCustomerID(ctx, ps.CustomerID)
	if errors.Is(err, ErrUserNotFound) {
		l.log.WarnContext(ctx, "provider subscription for unknown customer",
			"provider_sub_id", ps.ID, "provider_customer_id", ps.CustomerID)
		return nil
	}
	if err != nil {
		return err
	}

	status, ok := mapProviderStatus(ps.Status)
	if !ok {
		status = StatusIncomplete
	}

	now := l.now()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             user.ID,
		ProviderSubID:      ps.ID,
		Status:             status,
		CurrentPeriodStart: ps.CurrentPeriodStart,
		CurrentPeriodEnd:   ps.CurrentPeriodEnd,
		CancelAtPeriodEnd:  ps.CancelAtPeriodEnd,
		CanceledAt:         ps.CanceledAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := l.subs.Create(ctx, sub); err != nil {
		// Concurrent delivery created the row first; the stored row wins.
		if errors.Is(err, ErrSubscriptionExists) {
			return nil
		}
		return err
	}

	if sub.Status == StatusActive {
		l.activationSideEffects(ctx, sub)
	}
	return nil
}

func (l *Lifecycle) handleSubscriptionCanceled(ctx context.Context, ps *ProviderSubscription) error {
	if ps == nil {
		return nil
	}

	sub, err := l.subs.ByProviderID(ctx, ps.ID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		l.log.WarnContext(ctx, "cancellation for unknown subscription", "provider_sub_id", ps.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if sub.IsCanceled() {
		return nil
	}

	canceledAt := ps.CanceledAt
	if canceledAt == nil {
		canceledAt = ptr(l.now())
	}
	status := StatusCanceled
	if _, err := l.applyStatusRetry(ctx, sub.ID, StatusChange{
		External:   true,
		Status:     &status,
		CanceledAt: canceledAt,
	}); err != nil {
		return err
	}

	if user, uerr := l.users.ByID(ctx, sub.UserID); uerr == nil {
		l.dispatch(notifier.KindCancelled, user, nil)
	}
	return nil
}

func (l *Lifecycle) handlePaymentSucceeded(ctx context.Context, inv *ProviderInvoice) error {
	if inv == nil || inv.SubscriptionID == "" {
		return nil
	}

	sub, err := l.subs.ByProviderID(ctx, inv.SubscriptionID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		l.log.WarnContext(ctx, "payment for unknown subscription", "provider_sub_id", inv.SubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	user, err := l.users.ByID(ctx, sub.UserID)
	if err != nil {
		return err
	}

	if err := l.recordAttempt(ctx, user, inv, AttemptSucceeded, ""); err != nil {
		return err
	}

	periodStart, periodEnd := inv.PeriodStart, inv.PeriodEnd
	if periodEnd.IsZero() {
		// Invoice payloads do not always carry line periods; the provider's
		// subscription view is authoritative for the refreshed window.
		ps, perr := l.provider.RetrieveSubscription(ctx, sub.ProviderSubID)
		if perr != nil {
			return perr
		}
		periodStart, periodEnd = ps.CurrentPeriodStart, ps.CurrentPeriodEnd
	}

	prev := sub.Status
	status := StatusActive
	updated, err := l.applyStatusRetry(ctx, sub.ID, StatusChange{
		External:    true,
		Status:      &status,
		PeriodStart: &periodStart,
		PeriodEnd:   &periodEnd,
	})
	if err != nil {
		return err
	}

	// First successful payment activates the subscription; a retry after
	// past_due only refreshes the period.
	if prev == StatusIncomplete && updated.Status == StatusActive {
		l.activationSideEffects(ctx, updated)
	}
	return nil
}

func (l *Lifecycle) handlePaymentFailed(ctx context.Context, inv *ProviderInvoice) error {
	if inv == nil || inv.SubscriptionID == "" {
		return nil
	}

	sub, err := l.subs.ByProviderID(ctx, inv.SubscriptionID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		l.log.WarnContext(ctx, "failed payment for unknown subscription", "provider_sub_id", inv.SubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	user, err := l.users.ByID(ctx, sub.UserID)
	if err != nil {
		return err
	}

	reason := inv.FailureReason
	if reason == "" {
		reason = "payment failed"
	}
	if err := l.recordAttempt(ctx, user, inv, AttemptFailed, reason); err != nil {
		return err
	}

	// past_due is only reachable from active; a failed initial payment
	// leaves the shell incomplete for the provider to retry or expire.
	if sub.Status != StatusActive {
		return nil
	}

	status := StatusPastDue
	if _, err := l.applyStatusRetry(ctx, sub.ID, StatusChange{
		External: true,
		Status:   &status,
	}); err != nil {
		return err
	}

	l.dispatch(notifier.KindPaymentFailed, user, map[string]string{"reason": reason})
	return nil
}

// NotifyExpiring sends the expiring-soon notice for subscriptions scheduled
// to lapse inside the window. Safe to run from any number of schedule ticks:
// notified rows are marked and skipped on the next scan.
func (l *Lifecycle) NotifyExpiring(ctx context.Context, window time.Duration) error {
	now := l.now()
	subs, err := l.subs.ExpiringWithin(ctx, now, window)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		user, err := l.users.ByID(ctx, sub.UserID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := l.subs.MarkExpiryNotified(ctx, sub.ID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		l.dispatch(notifier.KindExpiringSoon, user, map[string]string{
			"period_end": sub.CurrentPeriodEnd.Format(time.RFC1123),
		})
	}
	return errors.Join(errs...)
}

// activationSideEffects grants the download token and sends the activation
// notices. Failures here are logged, not propagated: the transition has
// already committed and must not be reversed by a side-effect failure.
func (l *Lifecycle) activationSideEffects(ctx context.Context, sub *Subscription) {
	user, err := l.users.ByID(ctx, sub.UserID)
	if err != nil {
		l.log.ErrorContext(ctx, "activation side effects: user lookup failed",
			logger.SubscriptionID(sub.ID), logger.Error(err))
		return
	}

	l.dispatch(notifier.KindConfirmed, user, nil)

	if l.tokens == nil {
		return
	}
	_, expiresAt, err := l.tokens.Grant(ctx, user.ID, user.Platform)
	if err != nil {
		l.log.ErrorContext(ctx, "activation side effects: token grant failed",
			logger.UserID(user.ID), logger.Error(err))
		return
	}
	l.dispatch(notifier.KindDownloadReady, user, map[string]string{
		"expires_at": expiresAt.Format(time.RFC1123),
	})
}

func (l *Lifecycle) recordAttempt(ctx context.Context, user *User, inv *ProviderInvoice, status, reason string) error {
	attempt := &PaymentAttempt{
		ID:                      uuid.New(),
		Email:                   user.Email,
		Platform:                user.Platform,
		Amount:                  inv.Amount,
		Status:                  status,
		ProviderPaymentIntentID: inv.PaymentIntentID,
		FailureReason:           reason,
		CreatedAt:               l.now(),
	}
	if err := l.attempts.Record(ctx, attempt); err != nil {
		return fmt.Errorf("record payment attempt: %w", err)
	}
	return nil
}

func (l *Lifecycle) dispatch(kind notifier.Kind, user *User, data map[string]string) {
	if l.notify == nil {
		return
	}
	notifier.Dispatch(l.log, l.notify, kind, notifier.Recipient{
		Email:    user.Email,
		Platform: string(user.Platform),
	}, data)
}
