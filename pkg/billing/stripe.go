package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
)

// StripeConfig holds configuration for the Stripe payment provider.
type StripeConfig struct {
	APIKey        string        `env:"STRIPE_API_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
}

// StripeProvider implements PaymentProvider for Stripe.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

// NewStripeProvider creates a Stripe payment provider. Every API call is
// bounded by the configured HTTP client timeout in addition to the caller's
// context deadline.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	api := &client.API{}
	api.Init(cfg.APIKey, stripe.NewBackends(&http.Client{Timeout: cfg.Timeout}))

	return &StripeProvider{api: api, config: cfg}, nil
}

// CreateCustomer registers a Stripe customer tagged with the internal user ID.
func (p *StripeProvider) CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID.String())

	cus, err := p.api.Customers.New(params)
	if err != nil {
		return "", errors.Join(ErrProvider, err)
	}
	return cus.ID, nil
}

// CreateSubscription starts an incomplete subscription so payment confirms
// client-side before the subscription ever activates.
func (p *StripeProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, errors.Join(ErrProvider, err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) RetrieveSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(providerSubID, params)
	if err != nil {
		return nil, errors.Join(ErrProvider, err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(providerSubID, params)
	if err != nil {
		return nil, errors.Join(ErrProvider, err)
	}
	return fromStripeSubscription(sub), nil
}

// VerifyWebhook authenticates the payload against the endpoint secret and
// normalizes the event. Verification failures are terminal: the event never
// reaches the reconciler.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*ProviderEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.config.WebhookSecret)
	if err != nil {
		return nil, errors.Join(ErrWebhookSignature, err)
	}
	return normalizeStripeEvent(event)
}

// ParseEvent normalizes a payload whose signature was already verified at
// delivery time. It exists for replaying stored webhook payloads, where
// re-checking a signature would be meaningless.
func (p *StripeProvider) ParseEvent(payload []byte) (*ProviderEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	return normalizeStripeEvent(event)
}

// normalizeStripeEvent maps Stripe event shapes onto the provider-agnostic
// ProviderEvent. Unhandled event types come back as EventUnknown with the
// raw payload preserved.
func normalizeStripeEvent(event stripe.Event) (*ProviderEvent, error) {
	out := &ProviderEvent{
		ID:           event.ID,
		ProviderType: event.Type,
		Type:         EventUnknown,
	}
	if event.Data != nil {
		out.Raw = event.Data.Raw
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode stripe subscription event: %w", err)
		}
		out.Subscription = fromStripeSubscription(&sub)

		switch event.Type {
		case "customer.subscription.created":
			out.Type = EventSubscriptionCreated
		case "customer.subscription.updated":
			out.Type = EventSubscriptionUpdated
		default:
			out.Type = EventSubscriptionCanceled
		}

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode stripe invoice event: %w", err)
		}
		out.Invoice = fromStripeInvoice(&inv)

		if event.Type == "invoice.payment_failed" {
			out.Type = EventPaymentFailed
		} else {
			out.Type = EventPaymentSucceeded
		}
	}

	return out, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		out.CanceledAt = &t
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		out.PaymentIntentClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out
}

func fromStripeInvoice(inv *stripe.Invoice) *ProviderInvoice {
	out := &ProviderInvoice{
		CustomerEmail: inv.CustomerEmail,
		Amount: Money{
			Amount:   inv.AmountDue,
			Currency: string(inv.Currency),
		},
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
	}
	if inv.LastFinalizationError != nil {
		out.FailureReason = inv.LastFinalizationError.Msg
	}
	// Invoice line periods carry the billing window the payment covers.
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		out.PeriodStart = time.Unix(inv.Lines.Data[0].Period.Start, 0).UTC()
		out.PeriodEnd = time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
	}
	return out
}
