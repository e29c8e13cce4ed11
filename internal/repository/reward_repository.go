package repository

import (
	"context"

	"eventmart/internal/status"
	"eventmart/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// RewardRepo records wheel draws. The unique index on the transaction
// column means a transaction can be drawn at most once.
type RewardRepo struct {
	app core.App
}

func NewRewardRepo(app core.App) *RewardRepo {
	return &RewardRepo{app: app}
}

// CreateTx inserts the draw inside the caller's database transaction. A
// duplicate transaction id violates the unique index and is reported as
// status.ErrAlreadyDrawn.
func (r *RewardRepo) CreateTx(ctx context.Context, txApp core.App, draw *models.RewardDraw) error {
	collection, err := txApp.FindCollectionByNameOrId("reward_draws")
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("transaction", draw.TransactionID)
	record.Set("user", draw.UserID)
	record.Set("segment_index", draw.SegmentIndex)
	record.Set("coins", draw.Coins)

	if err := txApp.Save(record); err != nil {
		if existing, lerr := r.GetByTransaction(ctx, draw.TransactionID); lerr == nil && existing != nil {
			return status.ErrAlreadyDrawn
		}
		return err
	}

	draw.ID = record.Id
	draw.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (r *RewardRepo) GetByTransaction(ctx context.Context, transactionID string) (*models.RewardDraw, error) {
	record, err := r.app.FindFirstRecordByFilter(
		"reward_draws",
		"transaction = {:tx}",
		dbx.Params{"tx": transactionID},
	)
	if err != nil {
		return nil, err
	}

	return &models.RewardDraw{
		ID:            record.Id,
		TransactionID: record.GetString("transaction"),
		UserID:        record.GetString("user"),
		SegmentIndex:  record.GetInt("segment_index"),
		Coins:         int64(record.GetInt("coins")),
		CreatedAt:     record.GetDateTime("created").Time(),
	}, nil
}
