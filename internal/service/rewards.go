package service

import (
	"context"

	"ecopoints/internal/model"
)

// RewardsService defines the business operations of the rewards ledger.
// All transport layers (HTTP, NATS) depend on this interface, not on the
// concrete engine.
//
// History and AdminHistory deliberately return no error: listing is
// fail-soft, a storage failure is logged and served as an empty history.
type RewardsService interface {
	RecordDeposit(ctx context.Context, req model.DepositRequest) (*model.DepositResult, error)
	RecordRedemption(ctx context.Context, req model.RedemptionRequest) (*model.RedemptionResult, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID string, limit int) []model.LedgerEntry
	AdminHistory(ctx context.Context, limit int) []model.LedgerEntry
	SyncBalanceCache(ctx context.Context, event model.EntryEvent) error
}

// Store is the persistence surface the engine needs. repository.Postgres
// is the production implementation, repository.Memory the in-process one.
type Store interface {
	ApplyDeposit(ctx context.Context, id string, points int64, description string) (*model.Account, *model.LedgerEntry, error)
	ApplyRedemption(ctx context.Context, id string, cost int64, description string) (*model.Account, *model.LedgerEntry, error)
	Balance(ctx context.Context, id string) (int64, error)
	WarmBalance(ctx context.Context, id string) (int64, error)
	EntriesForAccount(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error)
	AllEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error)
}
