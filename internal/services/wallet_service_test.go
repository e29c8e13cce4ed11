package services

import (
	"context"
	"testing"

	"eventmart/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletService_Balance_StartsAtZero(t *testing.T) {
	svc := NewWalletService(newFakeWalletStore())

	balance, err := svc.Balance(context.Background(), "newcomer")

	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestWalletService_Audit_ConsistentWallet(t *testing.T) {
	store := newFakeWalletStore()
	svc := NewWalletService(store)
	ctx := context.Background()

	wallet, err := store.Get(ctx, "user1")
	require.NoError(t, err)
	require.NoError(t, store.ApplyTx(ctx, nil, wallet, []models.LedgerEntry{
		{WalletUserID: "user1", Delta: 100, Reason: models.ReasonCashback, TransactionID: "tx1"},
		{WalletUserID: "user1", Delta: -40, Reason: models.ReasonRedemption, TransactionID: "tx2"},
	}))

	balance, ledgerSum, consistent, err := svc.Audit(ctx, "user1")

	require.NoError(t, err)
	assert.True(t, consistent)
	assert.Equal(t, int64(60), balance)
	assert.Equal(t, int64(60), ledgerSum)
}

func TestWalletService_Audit_DetectsDrift(t *testing.T) {
	store := newFakeWalletStore()
	svc := NewWalletService(store)
	ctx := context.Background()

	wallet, err := store.Get(ctx, "user1")
	require.NoError(t, err)
	require.NoError(t, store.ApplyTx(ctx, nil, wallet, []models.LedgerEntry{
		{WalletUserID: "user1", Delta: 100, Reason: models.ReasonCashback, TransactionID: "tx1"},
	}))

	// Balance written behind the ledger's back.
	store.mu.Lock()
	store.balances["user1"] = 150
	store.mu.Unlock()

	balance, ledgerSum, consistent, err := svc.Audit(ctx, "user1")

	require.NoError(t, err)
	assert.False(t, consistent)
	assert.Equal(t, int64(150), balance)
	assert.Equal(t, int64(100), ledgerSum)
}

func TestWalletService_Entries_NewestFirst(t *testing.T) {
	store := newFakeWalletStore()
	svc := NewWalletService(store)
	ctx := context.Background()

	wallet, err := store.Get(ctx, "user1")
	require.NoError(t, err)
	require.NoError(t, store.ApplyTx(ctx, nil, wallet, []models.LedgerEntry{
		{WalletUserID: "user1", Delta: 10, Reason: models.ReasonCashback, TransactionID: "tx1"},
	}))
	wallet, err = store.Get(ctx, "user1")
	require.NoError(t, err)
	require.NoError(t, store.ApplyTx(ctx, nil, wallet, []models.LedgerEntry{
		{WalletUserID: "user1", Delta: 20, Reason: models.ReasonReward, TransactionID: "tx2"},
	}))

	entries, err := svc.Entries(ctx, "user1", 10)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "tx2", entries[0].TransactionID)
	assert.Equal(t, "tx1", entries[1].TransactionID)
}

func TestWalletStore_ApplyTx_RejectsOverdraw(t *testing.T) {
	store := newFakeWalletStore()
	ctx := context.Background()

	wallet, err := store.Get(ctx, "user1")
	require.NoError(t, err)

	err = store.ApplyTx(ctx, nil, wallet, []models.LedgerEntry{
		{WalletUserID: "user1", Delta: -1, Reason: models.ReasonRedemption, TransactionID: "tx1"},
	})

	assert.Error(t, err)
	assert.Equal(t, int64(0), store.balances["user1"])
}
