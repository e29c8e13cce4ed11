package services

import (
	"context"
	"fmt"
	"testing"

	"eventmart/internal/status"
	"eventmart/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRewardTest(segments []models.WheelSegment) (*RewardService, *fakeTxStore, *fakeWalletStore, *fakeDrawStore) {
	txs := newFakeTxStore()
	wallets := newFakeWalletStore()
	draws := newFakeDrawStore()
	atomic := fakeAtomic{txs: txs, wallets: wallets, draws: draws}

	svc := NewRewardService(d("0.02"), segments, txs, wallets, draws, atomic)
	return svc, txs, wallets, draws
}

func settledTx(t *testing.T, txs *fakeTxStore, userID string) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		UserID:         userID,
		UnitID:         "u1",
		Kind:           models.UnitKindProduct,
		Quantity:       1,
		FinalAmount:    d("256"),
		Status:         models.TxStatusSettled,
		IdempotencyKey: fmt.Sprintf("key-%s-%d", userID, len(txs.snapshot())),
	}
	require.NoError(t, txs.Create(context.Background(), tx))
	return tx
}

func TestRewardService_EarnedCoins_EventUsesPerUnitRate(t *testing.T) {
	svc, _, _, _ := setupRewardTest(nil)

	tx := &models.Transaction{Kind: models.UnitKindEvent, Quantity: 3, FinalAmount: d("1000")}
	unit := &models.SellableUnit{CoinsPerUnit: 5}

	assert.Equal(t, int64(15), svc.EarnedCoins(tx, unit))
}

func TestRewardService_EarnedCoins_ProductUsesFlooredCashback(t *testing.T) {
	svc, _, _, _ := setupRewardTest(nil)

	tx := &models.Transaction{Kind: models.UnitKindProduct, FinalAmount: d("256")}

	// floor(256 * 0.02) = floor(5.12)
	assert.Equal(t, int64(5), svc.EarnedCoins(tx, &models.SellableUnit{}))
}

func TestRewardService_EarnedCoins_ZeroPaidProductEarnsNothing(t *testing.T) {
	svc, _, _, _ := setupRewardTest(nil)

	tx := &models.Transaction{Kind: models.UnitKindProduct, FinalAmount: d("0")}

	assert.Equal(t, int64(0), svc.EarnedCoins(tx, &models.SellableUnit{}))
}

func TestRewardService_Spin_CreditsDraw(t *testing.T) {
	svc, txs, wallets, draws := setupRewardTest([]models.WheelSegment{{Weight: 1, Coins: 7}})
	ctx := context.Background()

	tx := settledTx(t, txs, "user1")

	draw, err := svc.Spin(ctx, "user1", tx.ID)

	require.NoError(t, err)
	assert.Equal(t, int64(7), draw.Coins)
	assert.Equal(t, 0, draw.SegmentIndex)
	assert.Equal(t, int64(7), wallets.balances["user1"])

	stored, err := draws.GetByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "user1", stored.UserID)

	entries := wallets.entriesFor(tx.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ReasonReward, entries[0].Reason)
	assert.Equal(t, int64(7), entries[0].Delta)
}

func TestRewardService_Spin_OncePerTransaction(t *testing.T) {
	svc, txs, wallets, _ := setupRewardTest([]models.WheelSegment{{Weight: 1, Coins: 7}})
	ctx := context.Background()

	tx := settledTx(t, txs, "user1")

	_, err := svc.Spin(ctx, "user1", tx.ID)
	require.NoError(t, err)

	_, err = svc.Spin(ctx, "user1", tx.ID)
	assert.ErrorIs(t, err, status.ErrAlreadyDrawn)
	assert.Equal(t, int64(7), wallets.balances["user1"], "second spin must not credit again")
}

func TestRewardService_Spin_RequiresSettledTransaction(t *testing.T) {
	svc, txs, _, _ := setupRewardTest([]models.WheelSegment{{Weight: 1, Coins: 7}})
	ctx := context.Background()

	tx := &models.Transaction{
		UserID:         "user1",
		Status:         models.TxStatusPending,
		IdempotencyKey: "k1",
	}
	require.NoError(t, txs.Create(ctx, tx))

	_, err := svc.Spin(ctx, "user1", tx.ID)

	assert.ErrorIs(t, err, status.ErrNotSettled)
}

func TestRewardService_Spin_OwnerOnly(t *testing.T) {
	svc, txs, _, _ := setupRewardTest([]models.WheelSegment{{Weight: 1, Coins: 7}})

	tx := settledTx(t, txs, "user1")

	_, err := svc.Spin(context.Background(), "intruder", tx.ID)

	assert.ErrorIs(t, err, status.ErrTransactionNotFound)
}

func TestRewardService_Spin_ZeroCoinSegmentWritesNoLedgerEntry(t *testing.T) {
	svc, txs, wallets, draws := setupRewardTest([]models.WheelSegment{{Weight: 1, Coins: 0}})
	ctx := context.Background()

	tx := settledTx(t, txs, "user1")

	draw, err := svc.Spin(ctx, "user1", tx.ID)

	require.NoError(t, err)
	assert.Equal(t, int64(0), draw.Coins)
	assert.Empty(t, wallets.entriesFor(tx.ID))

	// The draw itself is still recorded so the spin cannot be repeated.
	_, err = draws.GetByTransaction(ctx, tx.ID)
	assert.NoError(t, err)
}

func TestRewardService_Spin_RetriesLedgerConflict(t *testing.T) {
	svc, txs, wallets, _ := setupRewardTest([]models.WheelSegment{{Weight: 1, Coins: 7}})
	ctx := context.Background()

	tx := settledTx(t, txs, "user1")
	wallets.conflicts = 1

	draw, err := svc.Spin(ctx, "user1", tx.ID)

	require.NoError(t, err)
	assert.Equal(t, int64(7), draw.Coins)
	assert.Equal(t, int64(7), wallets.balances["user1"])
}

func TestRewardService_Spin_PicksOnlyConfiguredSegments(t *testing.T) {
	segments := []models.WheelSegment{
		{Weight: 50, Coins: 0},
		{Weight: 30, Coins: 5},
		{Weight: 15, Coins: 20},
		{Weight: 5, Coins: 100},
	}
	svc, txs, _, _ := setupRewardTest(segments)
	ctx := context.Background()

	allowed := map[int64]bool{0: true, 5: true, 20: true, 100: true}
	for i := 0; i < 20; i++ {
		tx := settledTx(t, txs, "user1")
		draw, err := svc.Spin(ctx, "user1", tx.ID)
		require.NoError(t, err)
		assert.True(t, allowed[draw.Coins], "unexpected payout %d", draw.Coins)
		assert.GreaterOrEqual(t, draw.SegmentIndex, 0)
		assert.Less(t, draw.SegmentIndex, len(segments))
	}
}
