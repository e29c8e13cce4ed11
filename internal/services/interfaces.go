package services

import (
	"context"
	"time"

	"eventmart/internal/gateway"
	"eventmart/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// The orchestrator receives its collaborators as interfaces so settlement
// logic can be exercised without a database or a live gateway.

type UnitStore interface {
	Get(ctx context.Context, unitID string) (*models.SellableUnit, error)
	ReserveCapacity(ctx context.Context, unitID string, quantity int) error
	ReleaseCapacity(ctx context.Context, unitID string, quantity int) error
}

type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	GetByProviderOrder(ctx context.Context, providerOrderID string) (*models.Transaction, error)
	SetIntent(ctx context.Context, id, providerOrderID string) error
	Transition(ctx context.Context, id, from, to string) (bool, error)
	TransitionTx(ctx context.Context, txApp core.App, id, from, to string) (bool, error)
	Fail(ctx context.Context, id, from, reason string) (bool, error)
	SetSettlement(ctx context.Context, txApp core.App, id, providerPaymentID string, coinsEarned int64) error
	ListByStatusOlderThan(ctx context.Context, status string, cutoff time.Time, limit int) ([]models.Transaction, error)
}

type WalletStore interface {
	Get(ctx context.Context, userID string) (*models.Wallet, error)
	ApplyTx(ctx context.Context, txApp core.App, wallet *models.Wallet, entries []models.LedgerEntry) error
	HasEntry(ctx context.Context, transactionID, reason string) (bool, error)
	Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	LedgerSum(ctx context.Context, userID string) (int64, error)
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, transactionID string) (*gateway.Intent, error)
	CheckOrder(ctx context.Context, providerOrderID string) (*gateway.OrderStatus, error)
	VerifyCallback(providerOrderID, providerPaymentID, signature string) bool
}

// Atomic runs a function inside one database transaction. core.App
// satisfies it directly.
type Atomic interface {
	RunInTransaction(fn func(txApp core.App) error) error
}

// Notifier pushes settlement outcomes to a user's channel. Fire and
// forget; delivery failures never affect settlement.
type Notifier interface {
	Push(userID string, message map[string]any)
}
