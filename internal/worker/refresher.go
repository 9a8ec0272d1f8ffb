package worker

import (
	"context"
	"log/slog"
	"time"
)

// PendingLoader is satisfied by *kitchen.Workflow.
type PendingLoader interface {
	LoadPending(ctx context.Context)
}

// Refresher reloads the pending orders on a fixed interval.
type Refresher struct {
	loader   PendingLoader
	interval time.Duration
	log      *slog.Logger
}

func NewRefresher(loader PendingLoader, interval time.Duration, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		loader:   loader,
		interval: interval,
		log:      log,
	}
}

// Start blocks until ctx is done. A non-positive interval returns at once.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info("pending refresher disabled")
		return
	}

	r.log.Info("starting pending refresher", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("pending refresher stopped")
			return
		case <-ticker.C:
			r.loader.LoadPending(ctx)
		}
	}
}
