package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/billgate/billgate/pkg/billing"
	"github.com/billgate/billgate/pkg/download"
	"github.com/billgate/billgate/pkg/httpserver"
	"github.com/billgate/billgate/pkg/ratelimiter"
	"github.com/billgate/billgate/pkg/webhook"
)

// Deps are the services the router exposes over HTTP.
type Deps struct {
	Lifecycle  *billing.Lifecycle
	Users      billing.UserStore
	Subs       billing.SubscriptionStore
	Downloads  *download.Service
	Reconciler *webhook.Reconciler
	Provider   billing.PaymentProvider
	Limiter    *ratelimiter.FixedWindow
	Logger     *slog.Logger

	// ReadyChecks gate the readiness probe on backing services.
	ReadyChecks []func(context.Context) error
}

// NewRouter assembles the full route tree.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", httpserver.HealthCheckHandler(ctx, deps.Logger))
	r.Get("/ready", httpserver.HealthCheckHandler(ctx, deps.Logger, deps.ReadyChecks...))

	b := billingHandler{lifecycle: deps.Lifecycle, users: deps.Users, subs: deps.Subs}
	d := downloadHandler{service: deps.Downloads}
	wh := webhookHandler{provider: deps.Provider, reconciler: deps.Reconciler, log: deps.Logger}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", b.register)
		r.Post("/checkout", b.checkout)
		r.Get("/subscriptions/{userID}", b.subscription)
		r.Post("/subscriptions/{userID}/cancel", b.cancel)
		r.Post("/subscriptions/{userID}/reactivate", b.reactivate)

		r.Group(func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(ratelimiter.Middleware(deps.Limiter, ratelimiter.KeyByIP))
			}
			r.Post("/downloads/tokens", d.issue)
			r.Get("/downloads/{token}", d.redeem)
		})
	})

	r.Post("/webhooks/stripe", wh.stripe)

	return r
}
