package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/billgate/billgate/handler"
	"github.com/billgate/billgate/pkg/billing"
	"github.com/billgate/billgate/pkg/config"
	"github.com/billgate/billgate/pkg/download"
	"github.com/billgate/billgate/pkg/httpserver"
	"github.com/billgate/billgate/pkg/logger"
	"github.com/billgate/billgate/pkg/notifier"
	"github.com/billgate/billgate/pkg/pg"
	"github.com/billgate/billgate/pkg/ratelimiter"
	"github.com/billgate/billgate/pkg/redis"
	"github.com/billgate/billgate/pkg/webhook"
)

type appConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	PlansPath   string `env:"PLANS_PATH" envDefault:"plans.yaml"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	ExpiryNoticeWindow time.Duration `env:"EXPIRY_NOTICE_WINDOW" envDefault:"72h"`
	ExpiryScanInterval time.Duration `env:"EXPIRY_SCAN_INTERVAL" envDefault:"1h"`

	WebhookRetryInterval time.Duration `env:"WEBHOOK_RETRY_INTERVAL" envDefault:"5m"`
	WebhookRetryBatch    int           `env:"WEBHOOK_RETRY_BATCH" envDefault:"50"`
}

func (c appConfig) isProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("billgate exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.MustLoad[appConfig]()

	logOpt := logger.WithDevelopment("billgate")
	if cfg.isProduction() {
		logOpt = logger.WithProduction("billgate")
	}
	log := logger.New(logOpt)
	logger.SetAsDefault(log)

	// Storage.
	pgCfg := config.MustLoad[pg.Config]()
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	redisClient, err := redis.Connect(ctx, config.MustLoad[redis.Config]())
	if err != nil {
		return err
	}
	defer redisClient.Close()

	users := billing.NewPgUserStore(pool)
	subs := billing.NewPgSubscriptionStore(pool)
	attempts := billing.NewPgAttemptStore(pool)
	tokens := download.NewPgTokenStore(pool)
	events := webhook.NewPgEventStore(pool)

	// Payment provider and plan catalog.
	provider, err := billing.NewStripeProvider(config.MustLoad[billing.StripeConfig]())
	if err != nil {
		return err
	}
	plansSrc := billing.FilePlansSource{Path: cfg.PlansPath}
	plans, err := plansSrc.Load(ctx)
	if err != nil {
		return err
	}

	// Notifications.
	var sender notifier.Notifier = notifier.DevSender{Log: log}
	if cfg.isProduction() {
		sender, err = notifier.NewPostmarkNotifier(config.MustLoad[notifier.Config]())
		if err != nil {
			return err
		}
	}

	// Download token issuance. Artifact keys come from the plan catalog;
	// the S3 store is only wired in production so local runs need no bucket.
	downloadOpts := []download.ServiceOption{download.WithServiceLogger(log)}
	if cfg.isProduction() {
		artifacts, err := download.NewS3ArtifactStore(ctx, config.MustLoad[download.S3Config](), artifactKeys(plans))
		if err != nil {
			return err
		}
		downloadOpts = append(downloadOpts, download.WithArtifacts(artifacts))
	}
	downloadCfg := config.MustLoad[download.Config]()
	downloads := download.NewService(
		tokens,
		download.SubscriptionAccessChecker{Subs: subs},
		downloadCfg,
		downloadOpts...,
	)

	lifecycle, err := billing.NewLifecycle(ctx, plansSrc, provider, users, subs, attempts,
		billing.WithNotifier(sender),
		billing.WithTokenGranter(downloads),
		billing.WithLogger(log),
	)
	if err != nil {
		return err
	}

	reconciler := webhook.NewReconciler(events, lifecycle, provider, webhook.WithLogger(log))

	limiterStore, err := ratelimiter.NewRedisStore(redisClient, "billgate")
	if err != nil {
		return err
	}
	limiter, err := ratelimiter.NewFixedWindow(limiterStore, cfg.RateLimitRequests, cfg.RateLimitWindow)
	if err != nil {
		return err
	}

	// Background jobs: token GC, expiring-soon notices, webhook replay.
	go download.NewSweeper(downloads, downloadCfg.SweepInterval, log).Run(ctx)
	go runEvery(ctx, cfg.ExpiryScanInterval, func(ctx context.Context) {
		if err := lifecycle.NotifyExpiring(ctx, cfg.ExpiryNoticeWindow); err != nil {
			log.ErrorContext(ctx, "expiring-soon scan failed", logger.Error(err))
		}
	})
	go runEvery(ctx, cfg.WebhookRetryInterval, func(ctx context.Context) {
		if n, err := reconciler.ReprocessFailed(ctx, cfg.WebhookRetryBatch); err != nil {
			log.ErrorContext(ctx, "webhook replay failed", logger.Error(err))
		} else if n > 0 {
			log.InfoContext(ctx, "webhook events recovered", slog.Int("count", n))
		}
	})

	router := handler.NewRouter(ctx, handler.Deps{
		Lifecycle:  lifecycle,
		Users:      users,
		Subs:       subs,
		Downloads:  downloads,
		Reconciler: reconciler,
		Provider:   provider,
		Limiter:    limiter,
		Logger:     log,
		ReadyChecks: []func(context.Context) error{
			pg.Healthcheck(pool),
			redis.Healthcheck(redisClient),
		},
	})

	srv := httpserver.NewFromConfig(config.MustLoad[httpserver.Config](), httpserver.WithLogger(log))
	return srv.Run(ctx, router)
}

// artifactKeys merges per-plan artifact maps into the platform index the
// artifact store resolves downloads against.
func artifactKeys(plans map[string]billing.Plan) map[billing.Platform]string {
	keys := make(map[billing.Platform]string)
	for _, plan := range plans {
		for platform, key := range plan.Artifacts {
			keys[platform] = key
		}
	}
	return keys
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
