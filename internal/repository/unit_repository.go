package repository

import (
	"context"
	"fmt"

	"eventmart/internal/status"
	"eventmart/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// UnitRepo holds the sellable units and their capacity counters. Capacity
// is only ever changed through single-statement conditional updates, so two
// concurrent reservations observe a serialized view of the counter.
type UnitRepo struct {
	app core.App
}

func NewUnitRepo(app core.App) *UnitRepo {
	return &UnitRepo{app: app}
}

func (r *UnitRepo) Get(ctx context.Context, unitID string) (*models.SellableUnit, error) {
	var row struct {
		ID           string  `db:"id"`
		Name         string  `db:"name"`
		Kind         string  `db:"kind"`
		Price        float64 `db:"price"`
		Capacity     int     `db:"capacity"`
		Reserved     int     `db:"reserved"`
		CoinsPerUnit int     `db:"coins_per_unit"`
		Active       bool    `db:"active"`
	}

	err := r.app.DB().NewQuery(
		`SELECT id, name, kind, price, capacity, reserved, coins_per_unit, active FROM units WHERE id = {:id}`,
	).Bind(dbx.Params{"id": unitID}).WithContext(ctx).One(&row)
	if err != nil {
		return nil, status.ErrUnitNotFound
	}

	return &models.SellableUnit{
		ID:           row.ID,
		Name:         row.Name,
		Kind:         row.Kind,
		Price:        row.Price,
		Capacity:     row.Capacity,
		Reserved:     row.Reserved,
		CoinsPerUnit: row.CoinsPerUnit,
		Active:       row.Active,
	}, nil
}

// ReserveCapacity performs the atomic compare-and-increment. The guard and
// the increment live in one UPDATE so no interleaving can oversell the
// unit. Zero affected rows are classified by re-reading the unit.
func (r *UnitRepo) ReserveCapacity(ctx context.Context, unitID string, quantity int) error {
	res, err := r.app.DB().NewQuery(
		`UPDATE units SET reserved = reserved + {:q}
		 WHERE id = {:id} AND active = 1 AND reserved + {:q} <= capacity`,
	).Bind(dbx.Params{"id": unitID, "q": quantity}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("reserve capacity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve capacity: %w", err)
	}
	if affected > 0 {
		return nil
	}

	unit, err := r.Get(ctx, unitID)
	if err != nil {
		return err
	}
	if !unit.Active {
		return status.ErrUnitInactive
	}
	return status.ErrCapacityExceeded
}

// ReleaseCapacity undoes a reservation's increment. The guard keeps the
// counter from ever going below zero, so a stray second release on a row
// that was already restored simply affects zero rows.
func (r *UnitRepo) ReleaseCapacity(ctx context.Context, unitID string, quantity int) error {
	_, err := r.app.DB().NewQuery(
		`UPDATE units SET reserved = reserved - {:q}
		 WHERE id = {:id} AND reserved >= {:q}`,
	).Bind(dbx.Params{"id": unitID, "q": quantity}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("release capacity: %w", err)
	}
	return nil
}
