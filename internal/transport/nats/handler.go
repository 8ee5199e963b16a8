package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"ecopoints/internal/model"
	"ecopoints/internal/service"
)

// TopicMachineDeposits carries DepositRequest payloads from the RVM fleet.
// The machine secret travels inside the payload and is checked by the
// engine exactly as on the HTTP path.
const TopicMachineDeposits = "machine.deposits"

// Handler subscribes to machine command topics and delegates to the rewards
// service. Deposits over NATS are fire-and-forget from the machine's side;
// outcomes are logged.
type Handler struct {
	svc  service.RewardsService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.RewardsService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes and blocks until ctx is cancelled, then drains.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(TopicMachineDeposits, "rvm_ingest", func(m *nats.Msg) {
		var req model.DepositRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal deposit", "error", err)
			return
		}
		res, err := h.svc.RecordDeposit(ctx, req)
		if err != nil {
			slog.Error("nats: deposit rejected", "user_id", req.UserID, "error", err)
			return
		}
		slog.Info("nats: deposit recorded",
			"user_id", req.UserID,
			"added_points", res.AddedPoints,
		)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS deposit handler is running")

	<-ctx.Done()
	slog.Info("NATS deposit handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
