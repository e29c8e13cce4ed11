package models

import "time"

// Ledger entry reasons.
const (
	ReasonRedemption = "redemption"
	ReasonCashback   = "cashback"
	ReasonReward     = "reward"
	ReasonReversal   = "reversal"
)

// Wallet caches the fold of a user's ledger entries. Balance is only ever
// written together with the entries that justify it, under a version guard.
type Wallet struct {
	UserID  string `db:"user" json:"user_id"`
	Balance int64  `db:"balance" json:"balance"`
	Version int64  `db:"version" json:"version"`
}

// LedgerEntry is an immutable signed coin movement. The wallet balance is
// the sum of all entries for that user.
type LedgerEntry struct {
	ID            string    `json:"id"`
	WalletUserID  string    `json:"wallet_user_id"`
	Delta         int64     `json:"delta"`
	Reason        string    `json:"reason"` // redemption, cashback, reward, reversal
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}
