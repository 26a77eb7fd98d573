package download

import (
	"context"
	"log/slog"
	"time"

	"github.com/billgate/billgate/pkg/logger"
)

// Sweeper periodically garbage-collects expired tokens. Multiple sweepers
// against the same store are safe: the delete is idempotent and
// order-independent.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, sweeping once per tick. A failing
// sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.svc.SweepExpired(ctx); err != nil {
				s.log.ErrorContext(ctx, "token sweep failed", logger.Error(err))
			}
		}
	}
}
