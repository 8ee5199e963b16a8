package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"ecopoints/internal/model"
	"ecopoints/internal/service"
)

// BalanceSyncWorker listens for committed ledger entries and re-warms the
// Redis balance cache for the affected account. Writes only invalidate the
// cache; this worker is what puts fresh values back so dashboard reads stay
// cheap. Postgres remains authoritative either way.
type BalanceSyncWorker struct {
	svc      service.RewardsService
	natsConn *nats.Conn
}

func NewBalanceSyncWorker(svc service.RewardsService, nc *nats.Conn) *BalanceSyncWorker {
	return &BalanceSyncWorker{svc: svc, natsConn: nc}
}

// Run subscribes to the entries topic and blocks until ctx is cancelled.
func (w *BalanceSyncWorker) Run(ctx context.Context) error {
	// QueueSubscribe: with several API replicas running, each event is
	// handled by only one member of the group.
	sub, err := w.natsConn.QueueSubscribe(service.TopicEntries, "cache_sync", func(m *nats.Msg) {
		var event model.EntryEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			slog.Error("worker: failed to unmarshal entry event", "error", err)
			return
		}

		if err := w.svc.SyncBalanceCache(ctx, event); err != nil {
			slog.Error("worker: failed to sync balance cache",
				"account_id", event.AccountID,
				"error", err,
			)
			return
		}

		slog.Info("worker: balance cache synced",
			"account_id", event.AccountID,
			"points_delta", event.PointsDelta,
		)
	})

	if err != nil {
		return fmt.Errorf("worker: failed to subscribe: %w", err)
	}

	slog.Info("Balance sync worker is running")

	<-ctx.Done()

	slog.Info("Worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

// Start implements the infrastructure.Server interface.
func (w *BalanceSyncWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *BalanceSyncWorker) Stop(ctx context.Context) error {
	return nil
}
