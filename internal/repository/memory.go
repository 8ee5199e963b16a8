package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecopoints/internal/model"
)

// Memory is an in-process store with the same semantics as Postgres. One
// mutex covers the account map and the ledger together, so every balance
// change and its entry become visible as a unit — the same guarantee the
// Postgres store gets from its transactions. Used by tests and local runs.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	entries  []memoryEntry
	seq      int64
}

// memoryEntry tags each entry with an insertion sequence so listings stay
// newest-first even when wall-clock timestamps collide.
type memoryEntry struct {
	model.LedgerEntry
	seq int64
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]model.Account)}
}

func (m *Memory) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acct, nil
}

func (m *Memory) CreateAccount(ctx context.Context, id string, initialPoints int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; ok {
		return nil, ErrAccountExists
	}
	now := time.Now().UTC()
	acct := model.Account{ID: id, Points: initialPoints, CreatedAt: now, LastActiveAt: now}
	m.accounts[id] = acct
	return &acct, nil
}

func (m *Memory) AdjustBalance(ctx context.Context, id string, delta int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acct.Points += delta
	acct.LastActiveAt = time.Now().UTC()
	m.accounts[id] = acct
	return &acct, nil
}

func (m *Memory) ApplyDeposit(ctx context.Context, id string, points int64, description string) (*model.Account, *model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	acct, ok := m.accounts[id]
	if !ok {
		acct = model.Account{ID: id, Points: points, CreatedAt: now, LastActiveAt: now}
	} else {
		acct.Points += points
		acct.LastActiveAt = now
	}
	m.accounts[id] = acct
	entry := m.append(model.KindDeposit, id, points, description, now)
	return &acct, entry, nil
}

func (m *Memory) ApplyRedemption(ctx context.Context, id string, cost int64, description string) (*model.Account, *model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}
	if acct.Points < cost {
		return nil, nil, &InsufficientBalanceError{Balance: acct.Points, Cost: cost}
	}
	acct.Points -= cost
	m.accounts[id] = acct
	entry := m.append(model.KindRedemption, id, -cost, description, time.Now().UTC())
	return &acct, entry, nil
}

// append assumes m.mu is held.
func (m *Memory) append(kind model.EntryKind, accountID string, delta int64, description string, at time.Time) *model.LedgerEntry {
	m.seq++
	entry := model.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        kind,
		Description: description,
		PointsDelta: delta,
		CreatedAt:   at,
	}
	m.entries = append(m.entries, memoryEntry{LedgerEntry: entry, seq: m.seq})
	return &entry
}

func (m *Memory) Balance(ctx context.Context, id string) (int64, error) {
	acct, err := m.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Points, nil
}

func (m *Memory) WarmBalance(ctx context.Context, id string) (int64, error) {
	return m.Balance(ctx, id)
}

func (m *Memory) EntriesForAccount(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	return m.list(func(e memoryEntry) bool { return e.AccountID == accountID }, limit), nil
}

func (m *Memory) AllEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	return m.list(func(memoryEntry) bool { return true }, limit), nil
}

func (m *Memory) list(match func(memoryEntry) bool, limit int) []model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	selected := []memoryEntry{}
	for _, e := range m.entries {
		if match(e) {
			selected = append(selected, e)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		if !selected[i].CreatedAt.Equal(selected[j].CreatedAt) {
			return selected[i].CreatedAt.After(selected[j].CreatedAt)
		}
		return selected[i].seq > selected[j].seq
	})
	if len(selected) > limit {
		selected = selected[:limit]
	}
	out := make([]model.LedgerEntry, 0, len(selected))
	for _, e := range selected {
		out = append(out, e.LedgerEntry)
	}
	return out
}
