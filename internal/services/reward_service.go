package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventmart/internal/status"
	"eventmart/models"
	"eventmart/utils"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

type DrawStore interface {
	CreateTx(ctx context.Context, txApp core.App, draw *models.RewardDraw) error
	GetByTransaction(ctx context.Context, transactionID string) (*models.RewardDraw, error)
}

// RewardService computes settlement coin credits and runs the spin wheel.
// The wheel outcome is drawn server-side only; a client supplies nothing
// but the transaction it wants to spin for.
type RewardService struct {
	cashbackRate decimal.Decimal
	segments     []models.WheelSegment

	txs     TransactionStore
	wallets WalletStore
	draws   DrawStore
	atomic  Atomic
}

func NewRewardService(cashbackRate decimal.Decimal, segments []models.WheelSegment, txs TransactionStore, wallets WalletStore, draws DrawStore, atomic Atomic) *RewardService {
	return &RewardService{
		cashbackRate: cashbackRate,
		segments:     segments,
		txs:          txs,
		wallets:      wallets,
		draws:        draws,
		atomic:       atomic,
	}
}

// EarnedCoins returns the cashback a settlement credits. Event bookings
// earn a flat per-seat rate; marketplace orders earn a floored percentage
// of the amount actually paid.
func (s *RewardService) EarnedCoins(tx *models.Transaction, unit *models.SellableUnit) int64 {
	if tx.Kind == models.UnitKindEvent {
		return int64(unit.CoinsPerUnit) * int64(tx.Quantity)
	}
	return tx.FinalAmount.Mul(s.cashbackRate).Floor().IntPart()
}

// Spin draws one wheel outcome for a settled transaction and credits it
// through the ledger. A transaction can be spun at most once; the draw
// record's unique transaction index carries that guarantee into storage.
func (s *RewardService) Spin(ctx context.Context, userID, transactionID string) (*models.RewardDraw, error) {
	tx, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, status.ErrTransactionNotFound
	}
	if tx.Status != models.TxStatusSettled {
		return nil, status.ErrNotSettled
	}

	if existing, err := s.draws.GetByTransaction(ctx, transactionID); err == nil && existing != nil {
		return nil, status.ErrAlreadyDrawn
	}

	weights := make([]int, len(s.segments))
	for i, seg := range s.segments {
		weights[i] = seg.Weight
	}
	index, err := utils.WeightedPick(weights)
	if err != nil {
		return nil, fmt.Errorf("wheel draw: %w", err)
	}

	draw := &models.RewardDraw{
		TransactionID: transactionID,
		UserID:        userID,
		SegmentIndex:  index,
		Coins:         s.segments[index].Coins,
	}

	// Credit and draw record commit together; a ledger version conflict
	// rolls both back and the whole draw is retried against the fresh
	// wallet.
	for attempt := 0; attempt < 3; attempt++ {
		err = s.atomic.RunInTransaction(func(txApp core.App) error {
			if err := s.draws.CreateTx(ctx, txApp, draw); err != nil {
				return err
			}
			if draw.Coins == 0 {
				return nil
			}

			wallet, err := s.wallets.Get(ctx, userID)
			if err != nil {
				return err
			}
			return s.wallets.ApplyTx(ctx, txApp, wallet, []models.LedgerEntry{{
				WalletUserID:  userID,
				Delta:         draw.Coins,
				Reason:        models.ReasonReward,
				TransactionID: transactionID,
			}})
		})
		if !errors.Is(err, status.ErrLedgerConflict) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	return draw, nil
}

// Draw returns an existing draw for a transaction.
func (s *RewardService) Draw(ctx context.Context, transactionID string) (*models.RewardDraw, error) {
	return s.draws.GetByTransaction(ctx, transactionID)
}

// Segments exposes the configured wheel for display.
func (s *RewardService) Segments() []models.WheelSegment {
	return s.segments
}
