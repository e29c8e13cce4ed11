package services

import (
	"context"

	"eventmart/models"
)

// WalletService is the read surface external collaborators get. Writes
// happen only inside settlement and reward commits.
type WalletService struct {
	wallets WalletStore
}

func NewWalletService(wallets WalletStore) *WalletService {
	return &WalletService{wallets: wallets}
}

func (s *WalletService) Balance(ctx context.Context, userID string) (int64, error) {
	wallet, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

func (s *WalletService) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return s.wallets.Entries(ctx, userID, limit)
}

// Audit compares the cached balance against the ledger fold. Any drift is
// a bug in the settlement path.
func (s *WalletService) Audit(ctx context.Context, userID string) (balance, ledgerSum int64, consistent bool, err error) {
	wallet, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}

	sum, err := s.wallets.LedgerSum(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}

	return wallet.Balance, sum, wallet.Balance == sum, nil
}
