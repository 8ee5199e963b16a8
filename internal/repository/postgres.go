package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ecopoints/internal/model"
)

// Postgres is the authoritative store: accounts plus the append-only ledger.
// A Redis client, when present, serves as a derived balance cache for the
// dashboard read path; writes only ever invalidate it, never feed it.
//
// Cache fills carry a TTL because a fill can race a write: WarmBalance may
// SELECT a pre-commit balance, the write commits and DELs the key, and the
// stale SET lands after the invalidation. The TTL bounds how long such a
// value can be served; the cache sync worker usually replaces it much
// sooner.
type Postgres struct {
	db    *pgxpool.Pool
	cache balanceCache
}

// balanceCache is the slice of the Redis API the store uses. *redis.Client
// satisfies it; tests substitute a fake.
type balanceCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// balanceCacheTTL caps how long a stale fill can outlive a racing
// invalidation.
const balanceCacheTTL = time.Minute

func NewPostgres(db *pgxpool.Pool, cache *redis.Client) *Postgres {
	p := &Postgres{db: db}
	if cache != nil {
		p.cache = cache
	}
	return p
}

func balanceKey(accountID string) string {
	return "balance:" + accountID
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var acct model.Account
	err := p.db.QueryRow(ctx,
		`SELECT id, points, created_at, last_active_at FROM accounts WHERE id = $1`,
		id).Scan(&acct.ID, &acct.Points, &acct.CreatedAt, &acct.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return &acct, nil
}

func (p *Postgres) CreateAccount(ctx context.Context, id string, initialPoints int64) (*model.Account, error) {
	var acct model.Account
	err := p.db.QueryRow(ctx,
		`INSERT INTO accounts (id, points) VALUES ($1, $2)
		 RETURNING id, points, created_at, last_active_at`,
		id, initialPoints).Scan(&acct.ID, &acct.Points, &acct.CreatedAt, &acct.LastActiveAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return &acct, nil
}

// AdjustBalance adds delta to the balance in a single UPDATE, so concurrent
// callers serialize at the row. The accounts CHECK constraint rejects any
// adjustment that would take the balance negative.
func (p *Postgres) AdjustBalance(ctx context.Context, id string, delta int64) (*model.Account, error) {
	var acct model.Account
	err := p.db.QueryRow(ctx,
		`UPDATE accounts SET points = points + $2, last_active_at = now()
		 WHERE id = $1
		 RETURNING id, points, created_at, last_active_at`,
		id, delta).Scan(&acct.ID, &acct.Points, &acct.CreatedAt, &acct.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}
	p.invalidateBalance(ctx, id)
	return &acct, nil
}

// ApplyDeposit credits points and appends the matching ledger entry in one
// transaction. The account is created on first deposit; an existing account
// keeps its created_at and gets last_active_at bumped.
func (p *Postgres) ApplyDeposit(ctx context.Context, id string, points int64, description string) (*model.Account, *model.LedgerEntry, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin deposit: %w", err)
	}
	defer tx.Rollback(ctx)

	var acct model.Account
	err = tx.QueryRow(ctx,
		`INSERT INTO accounts (id, points) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET points = accounts.points + EXCLUDED.points, last_active_at = now()
		 RETURNING id, points, created_at, last_active_at`,
		id, points).Scan(&acct.ID, &acct.Points, &acct.CreatedAt, &acct.LastActiveAt)
	if err != nil {
		return nil, nil, fmt.Errorf("upsert account: %w", err)
	}

	entry := &model.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   id,
		Kind:        model.KindDeposit,
		Description: description,
		PointsDelta: points,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.appendEntry(ctx, tx, entry); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit deposit: %w", err)
	}
	p.invalidateBalance(ctx, id)
	return &acct, entry, nil
}

// ApplyRedemption debits the balance and appends the matching ledger entry
// in one transaction. The debit is conditional ("points >= cost" inside the
// UPDATE itself), so two racing redemptions cannot both pass a stale balance
// check — the losing one sees no row and is rejected.
func (p *Postgres) ApplyRedemption(ctx context.Context, id string, cost int64, description string) (*model.Account, *model.LedgerEntry, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin redemption: %w", err)
	}
	defer tx.Rollback(ctx)

	var acct model.Account
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET points = points - $2
		 WHERE id = $1 AND points >= $2
		 RETURNING id, points, created_at, last_active_at`,
		id, cost).Scan(&acct.ID, &acct.Points, &acct.CreatedAt, &acct.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// No row matched: either the account is unknown or it cannot
		// cover the cost. Tell the caller which.
		var balance int64
		selErr := tx.QueryRow(ctx, `SELECT points FROM accounts WHERE id = $1`, id).Scan(&balance)
		if errors.Is(selErr, pgx.ErrNoRows) {
			return nil, nil, ErrAccountNotFound
		}
		if selErr != nil {
			return nil, nil, fmt.Errorf("select balance: %w", selErr)
		}
		return nil, nil, &InsufficientBalanceError{Balance: balance, Cost: cost}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("debit account: %w", err)
	}

	entry := &model.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   id,
		Kind:        model.KindRedemption,
		Description: description,
		PointsDelta: -cost,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.appendEntry(ctx, tx, entry); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit redemption: %w", err)
	}
	p.invalidateBalance(ctx, id)
	return &acct, entry, nil
}

func (p *Postgres) appendEntry(ctx context.Context, tx pgx.Tx, entry *model.LedgerEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, description, points_delta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.AccountID, entry.Kind, entry.Description, entry.PointsDelta, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Balance reads the cached balance, warming the cache from Postgres on a
// miss. A broken cache degrades to a direct read.
func (p *Postgres) Balance(ctx context.Context, id string) (int64, error) {
	if val, ok := p.cachedBalance(ctx, id); ok {
		return val, nil
	}
	return p.WarmBalance(ctx, id)
}

func (p *Postgres) cachedBalance(ctx context.Context, id string) (int64, bool) {
	if p.cache == nil {
		return 0, false
	}
	val, err := p.cache.Get(ctx, balanceKey(id)).Int64()
	if err == nil {
		return val, true
	}
	if !errors.Is(err, redis.Nil) {
		slog.Warn("balance cache read failed, falling back to db", "account_id", id, "error", err)
	}
	return 0, false
}

// WarmBalance reads the balance from Postgres and re-seeds the cache. The
// cache sync worker calls this after every committed entry; Balance calls it
// on a cache miss.
func (p *Postgres) WarmBalance(ctx context.Context, id string) (int64, error) {
	var points int64
	err := p.db.QueryRow(ctx, `SELECT points FROM accounts WHERE id = $1`, id).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	p.cacheBalance(ctx, id, points)
	return points, nil
}

// cacheBalance fills the cache with balanceCacheTTL. The TTL, not the
// invalidation, is what guarantees a fill that raced a write cannot be
// served forever.
func (p *Postgres) cacheBalance(ctx context.Context, id string, points int64) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, balanceKey(id), points, balanceCacheTTL).Err(); err != nil {
		slog.Warn("balance cache write failed", "account_id", id, "error", err)
	}
}

func (p *Postgres) invalidateBalance(ctx context.Context, id string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Del(ctx, balanceKey(id)).Err(); err != nil {
		slog.Warn("balance cache invalidation failed", "account_id", id, "error", err)
	}
}

func (p *Postgres) EntriesForAccount(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, account_id, kind, description, points_delta, created_at
		 FROM ledger_entries WHERE account_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (p *Postgres) AllEntries(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, account_id, kind, description, points_delta, created_at
		 FROM ledger_entries
		 ORDER BY created_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("select all entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	entries := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Description, &e.PointsDelta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	return entries, nil
}
