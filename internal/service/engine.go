package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"ecopoints/internal/model"
	"ecopoints/internal/repository"
)

// Pricing is fixed: cans are worth more than anything else, and anything
// the machine cannot classify is paid out at the bottle rate.
const (
	pointsPerCan    = 20
	pointsPerBottle = 10

	defaultItemType = "bottle"

	// maxDepositCount bounds a single report from the machine. No real
	// machine batches six-figure item counts, and the cap keeps the
	// points total far away from int64 overflow, which would otherwise
	// credit a negative amount.
	maxDepositCount = 100000

	// DefaultHistoryLimit caps the dashboard history view.
	DefaultHistoryLimit = 10
	// DefaultAdminHistoryLimit caps the admin view across all accounts.
	DefaultAdminHistoryLimit = 1000
)

// TopicEntries carries EntryEvent payloads for every committed ledger entry.
const TopicEntries = "rewards.entries"

var (
	ErrUnauthorized = errors.New("unauthorized machine")
	ErrInvalidInput = errors.New("invalid input")
)

// Engine implements RewardsService: accrual pricing, redemption checks and
// the machine authorization gate, on top of a Store. The bus is optional;
// without one, entry events are simply not published.
type Engine struct {
	store         Store
	bus           repository.MessageBus
	machineSecret []byte
}

func NewEngine(store Store, bus repository.MessageBus, machineSecret string) *Engine {
	return &Engine{store: store, bus: bus, machineSecret: []byte(machineSecret)}
}

// Authorize checks the presented machine secret. Constant-time compare; no
// lockout and no attempt throttling.
func (e *Engine) Authorize(presentedSecret string) error {
	if subtle.ConstantTimeCompare([]byte(presentedSecret), e.machineSecret) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func pricePerUnit(itemType string) int64 {
	if itemType == "can" {
		return pointsPerCan
	}
	return pointsPerBottle
}

// RecordDeposit converts a reported deposit into points and applies it.
// The balance credit and the ledger append happen in one store transaction;
// the account is created implicitly on first deposit.
func (e *Engine) RecordDeposit(ctx context.Context, req model.DepositRequest) (*model.DepositResult, error) {
	if err := e.Authorize(req.MachineSecret); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if req.Count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1, got %d", ErrInvalidInput, req.Count)
	}
	if req.Count > maxDepositCount {
		return nil, fmt.Errorf("%w: count must be at most %d, got %d", ErrInvalidInput, maxDepositCount, req.Count)
	}

	itemType := req.ItemType
	if itemType == "" {
		itemType = defaultItemType
	}
	total := pricePerUnit(itemType) * req.Count
	description := fmt.Sprintf("Deposited %d %s(s)", req.Count, itemType)

	acct, entry, err := e.store.ApplyDeposit(ctx, req.UserID, total, description)
	if err != nil {
		return nil, err
	}
	e.publish(entry)

	return &model.DepositResult{Account: acct, Entry: entry, AddedPoints: total}, nil
}

// RecordRedemption debits the account if it can cover the cost. The check
// and the debit are one conditional store operation, so racing redemptions
// cannot drive the balance negative. BalanceBefore is derived from the
// debit result, per the documented convention, not re-read.
func (e *Engine) RecordRedemption(ctx context.Context, req model.RedemptionRequest) (*model.RedemptionResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if req.Cost < 0 {
		return nil, fmt.Errorf("%w: cost must not be negative, got %d", ErrInvalidInput, req.Cost)
	}
	if req.RewardName == "" {
		return nil, fmt.Errorf("%w: reward_name is required", ErrInvalidInput)
	}

	acct, entry, err := e.store.ApplyRedemption(ctx, req.UserID, req.Cost, "Redeemed: "+req.RewardName)
	if err != nil {
		return nil, err
	}
	e.publish(entry)

	return &model.RedemptionResult{
		BalanceBefore: acct.Points + req.Cost,
		NewBalance:    acct.Points,
		Entry:         entry,
	}, nil
}

func (e *Engine) Balance(ctx context.Context, accountID string) (int64, error) {
	return e.store.Balance(ctx, accountID)
}

// History lists an account's entries, newest first. Fail-soft: a storage
// error is logged and served as an empty history so the dashboard still
// renders. Explicit limits are capped so a client cannot request an
// unbounded scan.
func (e *Engine) History(ctx context.Context, accountID string, limit int) []model.LedgerEntry {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	} else if limit > DefaultAdminHistoryLimit {
		limit = DefaultAdminHistoryLimit
	}
	entries, err := e.store.EntriesForAccount(ctx, accountID, limit)
	if err != nil {
		slog.Error("history read failed, serving empty history", "account_id", accountID, "error", err)
		return []model.LedgerEntry{}
	}
	return entries
}

// AdminHistory lists entries across all accounts, newest first. Same
// fail-soft behavior as History.
func (e *Engine) AdminHistory(ctx context.Context, limit int) []model.LedgerEntry {
	if limit <= 0 || limit > DefaultAdminHistoryLimit {
		limit = DefaultAdminHistoryLimit
	}
	entries, err := e.store.AllEntries(ctx, limit)
	if err != nil {
		slog.Error("admin history read failed, serving empty history", "error", err)
		return []model.LedgerEntry{}
	}
	return entries
}

// SyncBalanceCache re-warms the cached balance for the account named in the
// event. Called by the cache sync worker.
func (e *Engine) SyncBalanceCache(ctx context.Context, event model.EntryEvent) error {
	_, err := e.store.WarmBalance(ctx, event.AccountID)
	return err
}

// publish emits an EntryEvent for a committed entry. Best-effort: the entry
// is already durable, so a bus failure is only logged.
func (e *Engine) publish(entry *model.LedgerEntry) {
	if e.bus == nil {
		return
	}
	event := model.EntryEvent{
		AccountID:   entry.AccountID,
		Kind:        entry.Kind,
		PointsDelta: entry.PointsDelta,
		CreatedAt:   entry.CreatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal entry event", "account_id", entry.AccountID, "error", err)
		return
	}
	if err := e.bus.Publish(TopicEntries, data); err != nil {
		slog.Warn("failed to publish entry event", "account_id", entry.AccountID, "error", err)
	}
}
