package models

const (
	UnitKindEvent   = "event"
	UnitKindProduct = "product"
)

// SellableUnit is a finite-capacity thing that can be sold: a block of
// event seats or a product's stock. Capacity changes go through the
// conditional updates in the unit repository only.
type SellableUnit struct {
	ID           string  `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	Kind         string  `db:"kind" json:"kind"` // event, product
	Price        float64 `db:"price" json:"price"`
	Capacity     int     `db:"capacity" json:"capacity"`
	Reserved     int     `db:"reserved" json:"reserved"`
	CoinsPerUnit int     `db:"coins_per_unit" json:"coins_per_unit"`
	Active       bool    `db:"active" json:"active"`
}

// Remaining returns how many units can still be reserved.
func (u *SellableUnit) Remaining() int {
	return u.Capacity - u.Reserved
}
