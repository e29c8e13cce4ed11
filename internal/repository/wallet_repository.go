package repository

import (
	"context"
	"fmt"

	"eventmart/internal/status"
	"eventmart/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// WalletRepo manages coin wallets and their ledger entries. The balance
// column is a projection of the ledger; both are written together under the
// caller's database transaction, guarded by the wallet's version counter.
type WalletRepo struct {
	app core.App
}

func NewWalletRepo(app core.App) *WalletRepo {
	return &WalletRepo{app: app}
}

// Get returns the wallet for the user, creating an empty one on first use.
func (r *WalletRepo) Get(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := r.get(ctx, r.app, userID)
	if err == nil {
		return w, nil
	}

	collection, cerr := r.app.FindCollectionByNameOrId("wallets")
	if cerr != nil {
		return nil, cerr
	}
	record := core.NewRecord(collection)
	record.Set("user", userID)
	record.Set("balance", 0)
	record.Set("version", 0)
	if serr := r.app.Save(record); serr != nil {
		// lost the race against a concurrent first write; re-read
		return r.get(ctx, r.app, userID)
	}

	return &models.Wallet{UserID: userID, Balance: 0, Version: 0}, nil
}

func (r *WalletRepo) get(ctx context.Context, app core.App, userID string) (*models.Wallet, error) {
	var row struct {
		User    string `db:"user"`
		Balance int64  `db:"balance"`
		Version int64  `db:"version"`
	}
	err := app.DB().NewQuery(
		`SELECT user, balance, version FROM wallets WHERE user = {:user}`,
	).Bind(dbx.Params{"user": userID}).WithContext(ctx).One(&row)
	if err != nil {
		return nil, fmt.Errorf("wallet lookup: %w", err)
	}
	return &models.Wallet{UserID: row.User, Balance: row.Balance, Version: row.Version}, nil
}

// ApplyTx writes the given ledger entries and moves the wallet balance by
// their sum, inside the caller's transaction-scoped app. The version guard
// rejects a write computed against a stale wallet (status.ErrLedgerConflict)
// and the balance guard keeps the projection non-negative
// (status.ErrInsufficientCoins). No entry is written when either guard
// fails.
func (r *WalletRepo) ApplyTx(ctx context.Context, txApp core.App, wallet *models.Wallet, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var delta int64
	for _, e := range entries {
		delta += e.Delta
	}

	res, err := txApp.DB().NewQuery(
		`UPDATE wallets SET balance = balance + {:delta}, version = version + 1
		 WHERE user = {:user} AND version = {:version} AND balance + {:delta} >= 0`,
	).Bind(dbx.Params{
		"user":    wallet.UserID,
		"delta":   delta,
		"version": wallet.Version,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("wallet update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("wallet update: %w", err)
	}
	if affected == 0 {
		current, gerr := r.get(ctx, txApp, wallet.UserID)
		if gerr != nil {
			return gerr
		}
		if current.Version != wallet.Version {
			return status.ErrLedgerConflict
		}
		return status.ErrInsufficientCoins
	}

	collection, err := txApp.FindCollectionByNameOrId("ledger_entries")
	if err != nil {
		return err
	}
	for _, e := range entries {
		record := core.NewRecord(collection)
		record.Set("wallet_user", e.WalletUserID)
		record.Set("delta", e.Delta)
		record.Set("reason", e.Reason)
		record.Set("transaction", e.TransactionID)
		if err := txApp.Save(record); err != nil {
			return fmt.Errorf("ledger append: %w", err)
		}
	}

	return nil
}

// HasEntry reports whether a ledger entry with the given reason already
// exists for the transaction. Used as the replay guard for settlement and
// reward credits.
func (r *WalletRepo) HasEntry(ctx context.Context, transactionID, reason string) (bool, error) {
	var count int
	err := r.app.DB().NewQuery(
		`SELECT COUNT(*) FROM ledger_entries WHERE "transaction" = {:tx} AND reason = {:reason}`,
	).Bind(dbx.Params{"tx": transactionID, "reason": reason}).WithContext(ctx).Row(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Entries lists the most recent ledger entries for a user.
func (r *WalletRepo) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	records, err := r.app.FindRecordsByFilter(
		"ledger_entries",
		"wallet_user = {:user}",
		"-created",
		limit,
		0,
		dbx.Params{"user": userID},
	)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LedgerEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, models.LedgerEntry{
			ID:            record.Id,
			WalletUserID:  record.GetString("wallet_user"),
			Delta:         int64(record.GetInt("delta")),
			Reason:        record.GetString("reason"),
			TransactionID: record.GetString("transaction"),
			CreatedAt:     record.GetDateTime("created").Time(),
		})
	}
	return entries, nil
}

// LedgerSum folds all entries for a user. Used by the consistency check in
// the admin surface; the result must always equal the wallet balance.
func (r *WalletRepo) LedgerSum(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.app.DB().NewQuery(
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE wallet_user = {:user}`,
	).Bind(dbx.Params{"user": userID}).WithContext(ctx).Row(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}
