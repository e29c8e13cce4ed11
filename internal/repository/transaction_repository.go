package repository

import (
	"context"
	"fmt"
	"time"

	"eventmart/internal/status"
	"eventmart/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// TransactionRepo persists booking/order transactions. Status transitions
// go through guarded single-statement updates so a replayed step on a
// record that already moved on affects zero rows instead of double-writing.
type TransactionRepo struct {
	app core.App
}

func NewTransactionRepo(app core.App) *TransactionRepo {
	return &TransactionRepo{app: app}
}

func (r *TransactionRepo) Create(ctx context.Context, tx *models.Transaction) error {
	collection, err := r.app.FindCollectionByNameOrId("transactions")
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("user", tx.UserID)
	record.Set("unit", tx.UnitID)
	record.Set("kind", tx.Kind)
	record.Set("quantity", tx.Quantity)
	record.Set("subtotal", tx.Subtotal.InexactFloat64())
	record.Set("shipping", tx.Shipping.InexactFloat64())
	record.Set("tax", tx.Tax.InexactFloat64())
	record.Set("coins_redeemed", tx.CoinsRedeemed)
	record.Set("final_amount", tx.FinalAmount.InexactFloat64())
	record.Set("status", tx.Status)
	record.Set("coins_earned", tx.CoinsEarned)
	record.Set("idempotency_key", tx.IdempotencyKey)

	if err := r.app.Save(record); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	tx.ID = record.Id
	tx.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	record, err := r.app.FindRecordById("transactions", id)
	if err != nil {
		return nil, status.ErrTransactionNotFound
	}
	return recordToTransaction(record), nil
}

func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	record, err := r.app.FindFirstRecordByFilter(
		"transactions",
		"idempotency_key = {:key}",
		dbx.Params{"key": key},
	)
	if err != nil {
		return nil, status.ErrTransactionNotFound
	}
	return recordToTransaction(record), nil
}

func (r *TransactionRepo) GetByProviderOrder(ctx context.Context, providerOrderID string) (*models.Transaction, error) {
	record, err := r.app.FindFirstRecordByFilter(
		"transactions",
		"provider_order_id = {:oid}",
		dbx.Params{"oid": providerOrderID},
	)
	if err != nil {
		return nil, status.ErrTransactionNotFound
	}
	return recordToTransaction(record), nil
}

// SetIntent stores the provider order reference after CreateIntent.
func (r *TransactionRepo) SetIntent(ctx context.Context, id, providerOrderID string) error {
	record, err := r.app.FindRecordById("transactions", id)
	if err != nil {
		return status.ErrTransactionNotFound
	}
	record.Set("provider_order_id", providerOrderID)
	return r.app.Save(record)
}

// Transition moves a transaction from one status to another. It returns
// false without error when the record is not in the expected prior state,
// which is the no-op path for replayed webhooks and duplicate releases.
func (r *TransactionRepo) Transition(ctx context.Context, id, from, to string) (bool, error) {
	return r.transition(ctx, r.app, id, from, to, "")
}

// TransitionTx is Transition inside a caller-owned database transaction.
func (r *TransactionRepo) TransitionTx(ctx context.Context, txApp core.App, id, from, to string) (bool, error) {
	return r.transition(ctx, txApp, id, from, to, "")
}

// Fail moves a transaction to failed and records why.
func (r *TransactionRepo) Fail(ctx context.Context, id, from, reason string) (bool, error) {
	return r.transition(ctx, r.app, id, from, models.TxStatusFailed, reason)
}

func (r *TransactionRepo) transition(ctx context.Context, app core.App, id, from, to, failureReason string) (bool, error) {
	q := `UPDATE transactions SET status = {:to}, failure_reason = {:reason}, updated = {:now}`
	if to == models.TxStatusSettled {
		q += `, settled_at = {:now}`
	}
	q += ` WHERE id = {:id} AND status = {:from}`

	res, err := app.DB().NewQuery(q).Bind(dbx.Params{
		"id":     id,
		"from":   from,
		"to":     to,
		"reason": failureReason,
		"now":    time.Now().UTC().Format("2006-01-02 15:04:05.000Z"),
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, fmt.Errorf("transition %s->%s: %w", from, to, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetSettlement records the payment reference and earned coins on a
// settled transaction.
func (r *TransactionRepo) SetSettlement(ctx context.Context, txApp core.App, id, providerPaymentID string, coinsEarned int64) error {
	_, err := txApp.DB().NewQuery(
		`UPDATE transactions SET provider_payment_id = {:pid}, coins_earned = {:coins} WHERE id = {:id}`,
	).Bind(dbx.Params{"id": id, "pid": providerPaymentID, "coins": coinsEarned}).WithContext(ctx).Execute()
	return err
}

// ListByStatusOlderThan returns transactions sitting in a status since
// before the cutoff. Drives the stuck-commit retry and pending-expiry
// loops.
func (r *TransactionRepo) ListByStatusOlderThan(ctx context.Context, txStatus string, cutoff time.Time, limit int) ([]models.Transaction, error) {
	records, err := r.app.FindRecordsByFilter(
		"transactions",
		"status = {:status} && updated < {:cutoff}",
		"updated",
		limit,
		0,
		dbx.Params{
			"status": txStatus,
			"cutoff": cutoff.UTC().Format("2006-01-02 15:04:05.000Z"),
		},
	)
	if err != nil {
		return nil, err
	}

	out := make([]models.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, *recordToTransaction(record))
	}
	return out, nil
}

func recordToTransaction(record *core.Record) *models.Transaction {
	tx := &models.Transaction{
		ID:                record.Id,
		UserID:            record.GetString("user"),
		UnitID:            record.GetString("unit"),
		Kind:              record.GetString("kind"),
		Quantity:          record.GetInt("quantity"),
		Subtotal:          decimal.NewFromFloat(record.GetFloat("subtotal")),
		Shipping:          decimal.NewFromFloat(record.GetFloat("shipping")),
		Tax:               decimal.NewFromFloat(record.GetFloat("tax")),
		CoinsRedeemed:     int64(record.GetInt("coins_redeemed")),
		FinalAmount:       decimal.NewFromFloat(record.GetFloat("final_amount")),
		ProviderOrderID:   record.GetString("provider_order_id"),
		ProviderPaymentID: record.GetString("provider_payment_id"),
		Status:            record.GetString("status"),
		FailureReason:     record.GetString("failure_reason"),
		CoinsEarned:       int64(record.GetInt("coins_earned")),
		IdempotencyKey:    record.GetString("idempotency_key"),
		CreatedAt:         record.GetDateTime("created").Time(),
	}

	if settled := record.GetDateTime("settled_at"); !settled.IsZero() {
		t := settled.Time()
		tx.SettledAt = &t
	}
	return tx
}
