package model

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind distinguishes the two balance-changing events.
type EntryKind string

const (
	KindDeposit    EntryKind = "deposit"
	KindRedemption EntryKind = "redemption"
)

// Account is one user's point balance. The ID is whatever the machine and
// dashboard identify a user by (phone number or email) — treated as opaque.
type Account struct {
	ID           string    `json:"user_id"`
	Points       int64     `json:"points"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// LedgerEntry is one immutable record of a balance change. Entries are only
// ever inserted; PointsDelta is positive for deposits, negative for
// redemptions. The account's Points must always equal the sum of its deltas.
type LedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	AccountID   string    `json:"user_id"`
	Kind        EntryKind `json:"kind"`
	Description string    `json:"description"`
	PointsDelta int64     `json:"points_delta"`
	CreatedAt   time.Time `json:"timestamp"`
}

// DepositRequest is what an RVM machine reports, over HTTP or NATS.
type DepositRequest struct {
	MachineSecret string `json:"machine_secret"`
	UserID        string `json:"user_id"`
	ItemType      string `json:"item_type"`
	Count         int64  `json:"count"`
}

type DepositResult struct {
	Account     *Account
	Entry       *LedgerEntry
	AddedPoints int64
}

type RedemptionRequest struct {
	UserID     string `json:"user_id"`
	Cost       int64  `json:"cost"`
	RewardName string `json:"reward_name"`
}

// RedemptionResult reports the balance the account held just before the
// debit was applied and NewBalance = BalanceBefore - Cost. NewBalance is
// computed from the debit, not re-read afterwards, so a concurrent writer
// cannot make the response inconsistent with the entry it describes.
type RedemptionResult struct {
	BalanceBefore int64
	NewBalance    int64
	Entry         *LedgerEntry
}

// EntryEvent is published on the bus after a ledger entry is committed.
type EntryEvent struct {
	AccountID   string    `json:"account_id"`
	Kind        EntryKind `json:"kind"`
	PointsDelta int64     `json:"points_delta"`
	CreatedAt   time.Time `json:"created_at"`
}
