// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/queueengine/internal/config"
	"github.com/flyingrobots/queueengine/internal/storage"
)

// StartQueueLengthUpdater samples each configured queue's stats and
// updates the QueueLength/QueueRunning gauges.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, adapter storage.Adapter, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.PollPeriod > 0 {
		interval = cfg.Observability.PollPeriod
	}

	names := make([]string, 0, len(cfg.Queues))
	for _, q := range cfg.Queues {
		names = append(names, q.Name)
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, name := range names {
					stats, err := adapter.GetQueueStats(ctx, name)
					if err != nil {
						log.Debug("queue stats poll error", String("queue", name), Err(err))
						continue
					}
					QueueLength.WithLabelValues(name).Set(float64(stats.Queued))
					QueueRunning.WithLabelValues(name).Set(float64(stats.Running))
				}
			}
		}
	}()
}
