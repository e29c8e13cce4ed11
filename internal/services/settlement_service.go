package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventmart/config"
	"eventmart/internal/gateway"
	"eventmart/internal/status"
	"eventmart/models"
	"eventmart/monitoring"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// SettlementService drives a transaction through
// pending -> (paid) -> settled, with compensation on every failure before
// payment verification and retry-until-success after it. Each step guards
// on the current status, so replays (duplicate webhooks, double clicks,
// crashed-and-restarted loops) fall through as no-ops.
type SettlementService struct {
	inventory *InventoryService
	txs       TransactionStore
	wallets   WalletStore
	gw        PaymentGateway
	rewards   *RewardService
	notifier  Notifier
	atomic    Atomic
	Redis     *redis.Client
	cfg       *config.Config
}

func NewSettlementService(
	inventory *InventoryService,
	txs TransactionStore,
	wallets WalletStore,
	gw PaymentGateway,
	rewards *RewardService,
	notifier Notifier,
	atomic Atomic,
	redisClient *redis.Client,
	cfg *config.Config,
) *SettlementService {
	return &SettlementService{
		inventory: inventory,
		txs:       txs,
		wallets:   wallets,
		gw:        gw,
		rewards:   rewards,
		notifier:  notifier,
		atomic:    atomic,
		Redis:     redisClient,
		cfg:       cfg,
	}
}

type ReserveRequest struct {
	UnitID         string `json:"unit_id"`
	Quantity       int    `json:"quantity"`
	CoinsRequested int64  `json:"coins_requested"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ReserveResult struct {
	Transaction *models.Transaction `json:"transaction"`
	PayCode     string              `json:"pay_code,omitempty"`
	Replayed    bool                `json:"-"`
}

// Reserve is the client-facing entry point: reserve capacity, price the
// purchase, open a payment order when money is still owed, or settle
// immediately when coins cover everything.
func (s *SettlementService) Reserve(ctx context.Context, userID string, req ReserveRequest) (*ReserveResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	// Replay of a key we have seen returns the original transaction and
	// touches nothing.
	replayed, err := s.replayedReservation(ctx, userID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}

	wallet, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	unit, err := s.inventory.Reserve(ctx, req.UnitID, req.Quantity)
	if err != nil {
		monitoring.TrackReservation("unknown", "rejected")
		return nil, err
	}

	quote := s.quoteFor(unit, req.Quantity, req.CoinsRequested, wallet.Balance)

	tx := &models.Transaction{
		UserID:         userID,
		UnitID:         unit.ID,
		Kind:           unit.Kind,
		Quantity:       req.Quantity,
		Subtotal:       quote.Subtotal,
		Shipping:       quote.Shipping,
		Tax:            quote.Tax,
		CoinsRedeemed:  quote.CoinsRedeemed,
		FinalAmount:    quote.FinalAmount,
		Status:         models.TxStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		// A concurrent request with the same key won the unique-index
		// race; give back its transaction and undo our increment.
		s.inventory.Release(ctx, tx)
		if existing, lerr := s.txs.GetByIdempotencyKey(ctx, req.IdempotencyKey); lerr == nil {
			if existing.UserID != userID {
				return nil, status.ErrIdempotencyKeyTaken
			}
			return &ReserveResult{Transaction: existing, Replayed: true}, nil
		}
		return nil, err
	}

	s.inventory.CacheReservation(ctx, userID, req.IdempotencyKey, tx.ID)
	monitoring.TrackReservation(unit.Kind, "reserved")

	// Fully coin-funded or free: the gateway is never touched.
	if tx.FinalAmount.IsZero() {
		if err := s.commit(ctx, tx); err != nil {
			slog.Error("zero-amount settlement deferred to retry loop", "transaction", tx.ID, "error", err)
		}
		settled, _ := s.txs.GetByID(ctx, tx.ID)
		if settled != nil {
			tx = settled
		}
		return &ReserveResult{Transaction: tx}, nil
	}

	intent, err := s.createIntent(ctx, tx)
	if err != nil {
		s.failPending(ctx, tx, models.FailurePaymentCreate)
		monitoring.TrackReservation(unit.Kind, "payment_create_failed")
		return nil, fmt.Errorf("%w: %v", status.ErrPaymentCreateFailed, err)
	}

	tx.ProviderOrderID = intent.ProviderOrderID
	if err := s.txs.SetIntent(ctx, tx.ID, intent.ProviderOrderID); err != nil {
		s.failPending(ctx, tx, models.FailurePaymentCreate)
		return nil, fmt.Errorf("%w: %v", status.ErrPaymentCreateFailed, err)
	}

	s.trackSession(ctx, intent.ProviderOrderID, tx.ID, intent.PayCode)

	return &ReserveResult{Transaction: tx, PayCode: intent.PayCode}, nil
}

// HandleCallback verifies a provider notice and commits the settlement.
// Both the HTTP webhook and the PubNub notice land here; delivery is
// at-least-once and possibly out of order, so every branch is a guarded
// transition.
func (s *SettlementService) HandleCallback(ctx context.Context, notice *gateway.CallbackNotice) (*models.Transaction, error) {
	tx, err := s.txs.GetByProviderOrder(ctx, notice.ProviderOrderID)
	if err != nil {
		monitoring.TrackCallback("unknown_order")
		return nil, err
	}

	// Replayed webhook for something already settled: report success,
	// write nothing.
	if tx.Status == models.TxStatusSettled {
		monitoring.TrackCallback("replayed")
		return tx, nil
	}

	if !s.gw.VerifyCallback(notice.ProviderOrderID, notice.ProviderPaymentID, notice.Signature) {
		monitoring.TrackCallback("verification_failed")
		s.failPending(ctx, tx, models.FailureVerification)
		return nil, status.ErrVerificationFailed
	}

	if tx.Status == models.TxStatusFailed || tx.Status == models.TxStatusReversed {
		// Valid payment for a transaction we already released, e.g. the
		// customer paid after the session expired. Capacity is gone, so
		// this cannot be settled automatically; the money sits with the
		// provider until an operator refunds it. Flag that by moving the
		// transaction to reversed.
		if tx.Status == models.TxStatusFailed {
			if moved, terr := s.txs.Transition(ctx, tx.ID, models.TxStatusFailed, models.TxStatusReversed); terr == nil && moved {
				tx.Status = models.TxStatusReversed
			}
		}
		slog.Error("valid callback on released transaction", "transaction", tx.ID, "order", notice.ProviderOrderID)
		monitoring.TrackCallback("late_payment")
		return tx, nil
	}

	moved, err := s.txs.Transition(ctx, tx.ID, models.TxStatusPending, models.TxStatusPaid)
	if err != nil {
		return nil, err
	}
	if !moved {
		// A concurrent delivery got there first; re-read and fall through
		// to commit, which is itself guarded.
		if fresh, ferr := s.txs.GetByID(ctx, tx.ID); ferr == nil {
			tx = fresh
		}
		if tx.Status == models.TxStatusSettled {
			monitoring.TrackCallback("replayed")
			return tx, nil
		}
	} else {
		tx.Status = models.TxStatusPaid
	}

	tx.ProviderPaymentID = notice.ProviderPaymentID
	s.clearSession(ctx, notice.ProviderOrderID)
	monitoring.TrackCallback("verified")

	if err := s.commit(ctx, tx); err != nil {
		// Payment is verified; the retry loop owns it now. Never a
		// user-facing failure.
		slog.Error("commit deferred to retry loop", "transaction", tx.ID, "error", err)
	}

	fresh, ferr := s.txs.GetByID(ctx, tx.ID)
	if ferr == nil {
		return fresh, nil
	}
	return tx, nil
}

// GetTransaction returns a transaction for its owner.
func (s *SettlementService) GetTransaction(ctx context.Context, id, userID string) (*models.Transaction, error) {
	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, status.ErrTransactionNotFound
	}
	return tx, nil
}

// GetTransactionAny skips the owner check; admin and development
// surfaces only.
func (s *SettlementService) GetTransactionAny(ctx context.Context, id string) (*models.Transaction, error) {
	return s.txs.GetByID(ctx, id)
}

// commit finalizes a transaction: one database transaction writes the
// redemption debit, the cashback credit, the payment reference, and the
// settled status. A ledger version conflict retries against the fresh
// wallet; exhausting retries leaves the transaction in its prior status
// for the background loop.
func (s *SettlementService) commit(ctx context.Context, tx *models.Transaction) error {
	from := tx.Status
	if from != models.TxStatusPending && from != models.TxStatusPaid {
		return nil
	}

	unit, err := s.inventory.units.Get(ctx, tx.UnitID)
	if err != nil {
		return err
	}
	coinsEarned := s.rewards.EarnedCoins(tx, unit)

	var lastErr error
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.CommitBackoff * time.Duration(attempt)):
			}
		}

		wallet, err := s.wallets.Get(ctx, tx.UserID)
		if err != nil {
			lastErr = err
			continue
		}

		var won bool
		err = s.atomic.RunInTransaction(func(txApp core.App) error {
			moved, terr := s.txs.TransitionTx(ctx, txApp, tx.ID, from, models.TxStatusSettled)
			if terr != nil {
				return terr
			}
			if !moved {
				// Someone else settled (or failed) it; nothing to write.
				return nil
			}
			won = true

			var entries []models.LedgerEntry
			if tx.CoinsRedeemed > 0 {
				entries = append(entries, models.LedgerEntry{
					WalletUserID:  tx.UserID,
					Delta:         -tx.CoinsRedeemed,
					Reason:        models.ReasonRedemption,
					TransactionID: tx.ID,
				})
			}
			if coinsEarned > 0 {
				entries = append(entries, models.LedgerEntry{
					WalletUserID:  tx.UserID,
					Delta:         coinsEarned,
					Reason:        models.ReasonCashback,
					TransactionID: tx.ID,
				})
			}
			if err := s.wallets.ApplyTx(ctx, txApp, wallet, entries); err != nil {
				return err
			}

			return s.txs.SetSettlement(ctx, txApp, tx.ID, tx.ProviderPaymentID, coinsEarned)
		})
		if err == nil {
			if !won {
				// Lost the transition race; the winner already pushed.
				return nil
			}
			monitoring.TrackSettlement("settled")
			s.notifier.Push(tx.UserID, map[string]any{
				"type":           "settlement_settled",
				"transaction_id": tx.ID,
				"coins_earned":   coinsEarned,
				"coins_redeemed": tx.CoinsRedeemed,
			})
			return nil
		}

		lastErr = err
		if errors.Is(err, status.ErrLedgerConflict) || errors.Is(err, status.ErrInsufficientCoins) {
			continue
		}
		break
	}

	monitoring.TrackSettlement("deferred")
	return fmt.Errorf("%w: %v", status.ErrCommitFailed, lastErr)
}

// RetryStuckSettlements re-commits paid transactions whose ledger write
// never landed. Runs until the context is cancelled.
func (s *SettlementService) RetryStuckSettlements(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StuckScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retryStuckSweep(ctx)
		}
	}
}

func (s *SettlementService) retryStuckSweep(ctx context.Context) {
	stuck, err := s.txs.ListByStatusOlderThan(ctx, models.TxStatusPaid, time.Now().Add(-s.cfg.StuckScanInterval), 100)
	if err != nil {
		slog.Error("stuck settlement scan failed", "error", err)
		return
	}

	monitoring.SetStuckSettlements(len(stuck))
	for i := range stuck {
		tx := stuck[i]
		if err := s.commit(ctx, &tx); err != nil {
			slog.Error("stuck settlement retry failed", "transaction", tx.ID, "error", err)
		}
	}
}

// ExpirePendingPayments releases reservations whose payment session ran
// out. A released reservation never leaves the counter inflated.
func (s *SettlementService) ExpirePendingPayments(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expirePendingSweep(ctx)
		}
	}
}

func (s *SettlementService) expirePendingSweep(ctx context.Context) {
	expired, err := s.txs.ListByStatusOlderThan(ctx, models.TxStatusPending, time.Now().Add(-s.cfg.PaymentTimeout), 100)
	if err != nil {
		slog.Error("pending expiry scan failed", "error", err)
		return
	}

	for i := range expired {
		tx := expired[i]
		// Zero-amount transactions never wait on payment; one still
		// pending here is a failed immediate commit, so retry it instead
		// of expiring.
		if tx.FinalAmount.IsZero() {
			if err := s.commit(ctx, &tx); err != nil {
				slog.Error("zero-amount settlement retry failed", "transaction", tx.ID, "error", err)
			}
			continue
		}

		// The webhook can get lost. Poll the provider before giving up;
		// a paid order settles instead of expiring.
		if tx.ProviderOrderID != "" {
			if st, err := s.checkOrder(ctx, tx.ProviderOrderID); err == nil && st.State == gateway.OrderStatePaid {
				moved, terr := s.txs.Transition(ctx, tx.ID, models.TxStatusPending, models.TxStatusPaid)
				if terr != nil {
					slog.Error("poll reconciliation transition failed", "transaction", tx.ID, "error", terr)
					continue
				}
				if moved {
					tx.Status = models.TxStatusPaid
					tx.ProviderPaymentID = st.ProviderPaymentID
					s.clearSession(ctx, tx.ProviderOrderID)
					if err := s.commit(ctx, &tx); err != nil {
						slog.Error("poll reconciliation commit deferred", "transaction", tx.ID, "error", err)
					}
				}
				continue
			}
		}

		s.failPending(ctx, &tx, models.FailureExpired)
	}
}

func (s *SettlementService) checkOrder(ctx context.Context, providerOrderID string) (*gateway.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	st, err := s.gw.CheckOrder(ctx, providerOrderID)
	monitoring.ObserveGatewayCall("check_order", start, err)
	return st, err
}

// ListStuck exposes paid-but-uncommitted transactions to the admin
// surface.
func (s *SettlementService) ListStuck(ctx context.Context) ([]models.Transaction, error) {
	return s.txs.ListByStatusOlderThan(ctx, models.TxStatusPaid, time.Now(), 100)
}

// Reverse unwinds a settled transaction after the provider reversed the
// payment: one ledger entry undoes the net coin movement (restores what was
// redeemed, claws back what was earned) and the status moves to reversed.
// Capacity stays consumed; it was spent when the payment was verified.
func (s *SettlementService) Reverse(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TxStatusSettled {
		return nil, status.ErrNotSettled
	}

	wallet, err := s.wallets.Get(ctx, tx.UserID)
	if err != nil {
		return nil, err
	}

	err = s.atomic.RunInTransaction(func(txApp core.App) error {
		moved, terr := s.txs.TransitionTx(ctx, txApp, tx.ID, models.TxStatusSettled, models.TxStatusReversed)
		if terr != nil {
			return terr
		}
		if !moved {
			return nil
		}
		net := tx.CoinsRedeemed - tx.CoinsEarned
		if net == 0 {
			return nil
		}
		return s.wallets.ApplyTx(ctx, txApp, wallet, []models.LedgerEntry{{
			WalletUserID:  tx.UserID,
			Delta:         net,
			Reason:        models.ReasonReversal,
			TransactionID: tx.ID,
		}})
	})
	if err != nil {
		return nil, err
	}

	monitoring.TrackSettlement("reversed")
	return s.txs.GetByID(ctx, tx.ID)
}

// ForceCommit retries a single stuck settlement on operator request.
func (s *SettlementService) ForceCommit(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.txs.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, tx); err != nil {
		return nil, err
	}
	return s.txs.GetByID(ctx, transactionID)
}

// failPending moves a pending transaction to failed; only the winning
// transition releases capacity, so compensation runs exactly once no
// matter how many paths race here.
func (s *SettlementService) failPending(ctx context.Context, tx *models.Transaction, reason string) {
	won, err := s.txs.Fail(ctx, tx.ID, models.TxStatusPending, reason)
	if err != nil {
		slog.Error("failed to mark transaction failed", "transaction", tx.ID, "error", err)
		return
	}
	if !won {
		return
	}

	s.inventory.Release(ctx, tx)
	if tx.ProviderOrderID != "" {
		s.clearSession(ctx, tx.ProviderOrderID)
	}
	monitoring.TrackSettlement("failed")
}

func (s *SettlementService) quoteFor(unit *models.SellableUnit, quantity int, coinsRequested, balance int64) Quote {
	unitPrice := decimal.NewFromFloat(unit.Price)
	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	shipping := ShippingFor(unit.Kind, subtotal, s.cfg.ShippingFee, s.cfg.FreeShippingAbove)
	return Price(unitPrice, quantity, coinsRequested, balance, s.cfg.TaxRate, shipping)
}

func (s *SettlementService) createIntent(ctx context.Context, tx *models.Transaction) (*gateway.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	intent, err := s.gw.CreateIntent(ctx, tx.FinalAmount, s.cfg.Currency, tx.ID)
	monitoring.ObserveGatewayCall("create_intent", start, err)
	return intent, err
}

func (s *SettlementService) trackSession(ctx context.Context, providerOrderID, transactionID, payCode string) {
	if s.Redis == nil {
		return
	}

	key := sessionKey(providerOrderID)
	s.Redis.HSet(ctx, key, map[string]any{
		"transaction_id": transactionID,
		"pay_code":       payCode,
		"created_at":     time.Now().Unix(),
	})
	s.Redis.Expire(ctx, key, s.cfg.PaymentTimeout)
}

func (s *SettlementService) clearSession(ctx context.Context, providerOrderID string) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(ctx, sessionKey(providerOrderID))
}

// replayedReservation resolves an idempotency key for one user. A key that
// exists under a different account is rejected outright; handing back the
// stored transaction would leak another user's purchase.
func (s *SettlementService) replayedReservation(ctx context.Context, userID, idempotencyKey string) (*ReserveResult, error) {
	txID, ok := s.inventory.CachedReservation(ctx, userID, idempotencyKey)
	if ok {
		if tx, err := s.txs.GetByID(ctx, txID); err == nil && tx.UserID == userID {
			return &ReserveResult{Transaction: tx, Replayed: true}, nil
		}
	}

	// Redis may have been flushed; the unique index is the durable guard.
	if tx, err := s.txs.GetByIdempotencyKey(ctx, idempotencyKey); err == nil {
		if tx.UserID != userID {
			return nil, status.ErrIdempotencyKeyTaken
		}
		return &ReserveResult{Transaction: tx, Replayed: true}, nil
	}
	return nil, nil
}

func sessionKey(providerOrderID string) string {
	return fmt.Sprintf("payment:session:%s", providerOrderID)
}
