package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventmart/internal/status"
	"eventmart/models"

	"github.com/redis/go-redis/v9"
)

// InventoryService fronts the unit store with the idempotency replay
// cache. The durable replay guard is the unique idempotency_key index on
// transactions; Redis is only the fast path that answers retries without a
// table scan.
type InventoryService struct {
	units UnitStore
	Redis *redis.Client

	replayTTL time.Duration
}

func NewInventoryService(units UnitStore, redisClient *redis.Client, replayTTL time.Duration) *InventoryService {
	return &InventoryService{
		units:     units,
		Redis:     redisClient,
		replayTTL: replayTTL,
	}
}

// Reserve atomically takes quantity from the unit's remaining capacity and
// returns the unit as read for pricing. All rejections happen before any
// side effect.
func (s *InventoryService) Reserve(ctx context.Context, unitID string, quantity int) (*models.SellableUnit, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", status.ErrCapacityExceeded)
	}

	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if !unit.Active {
		return nil, status.ErrUnitInactive
	}

	if err := s.units.ReserveCapacity(ctx, unitID, quantity); err != nil {
		return nil, err
	}

	return unit, nil
}

// Release restores the capacity a transaction had reserved. Callers must
// hold the status-transition win for the transaction, which makes a second
// release unreachable.
func (s *InventoryService) Release(ctx context.Context, tx *models.Transaction) {
	if err := s.units.ReleaseCapacity(ctx, tx.UnitID, tx.Quantity); err != nil {
		slog.Error("failed to release capacity", "transaction", tx.ID, "unit", tx.UnitID, "error", err)
	}
}

// CachedReservation answers an idempotency-key replay from Redis. Keys are
// scoped per user so one account can never read another's reservation.
func (s *InventoryService) CachedReservation(ctx context.Context, userID, idempotencyKey string) (string, bool) {
	if s.Redis == nil {
		return "", false
	}

	txID, err := s.Redis.Get(ctx, replayKey(userID, idempotencyKey)).Result()
	if err != nil {
		return "", false
	}
	return txID, txID != ""
}

// CacheReservation remembers which transaction a user's idempotency key
// created.
func (s *InventoryService) CacheReservation(ctx context.Context, userID, idempotencyKey, transactionID string) {
	if s.Redis == nil {
		return
	}

	if err := s.Redis.Set(ctx, replayKey(userID, idempotencyKey), transactionID, s.replayTTL).Err(); err != nil {
		slog.Error("failed to cache reservation", "key", idempotencyKey, "error", err)
	}
}

func replayKey(userID, idempotencyKey string) string {
	return fmt.Sprintf("reserve:idem:%s:%s", userID, idempotencyKey)
}
