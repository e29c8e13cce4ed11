package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		units := core.NewBaseCollection("units")
		units.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 200},
			&core.SelectField{Name: "kind", Required: true, MaxSelect: 1, Values: []string{"event", "product"}},
			&core.NumberField{Name: "price", Required: true, Min: float64Ptr(0)},
			&core.NumberField{Name: "capacity", Required: true, OnlyInt: true, Min: float64Ptr(0)},
			&core.NumberField{Name: "reserved", OnlyInt: true, Min: float64Ptr(0)},
			&core.NumberField{Name: "coins_per_unit", OnlyInt: true, Min: float64Ptr(0)},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(units); err != nil {
			return err
		}

		transactions := core.NewBaseCollection("transactions")
		transactions.Fields.Add(
			&core.TextField{Name: "user", Required: true, Max: 100},
			&core.TextField{Name: "unit", Required: true, Max: 100},
			&core.SelectField{Name: "kind", Required: true, MaxSelect: 1, Values: []string{"event", "product"}},
			&core.NumberField{Name: "quantity", Required: true, OnlyInt: true, Min: float64Ptr(1)},
			&core.NumberField{Name: "subtotal", Min: float64Ptr(0)},
			&core.NumberField{Name: "shipping", Min: float64Ptr(0)},
			&core.NumberField{Name: "tax", Min: float64Ptr(0)},
			&core.NumberField{Name: "coins_redeemed", OnlyInt: true, Min: float64Ptr(0)},
			&core.NumberField{Name: "final_amount", Min: float64Ptr(0)},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{"pending", "paid", "settled", "failed", "reversed"}},
			&core.TextField{Name: "failure_reason", Max: 100},
			&core.TextField{Name: "idempotency_key", Required: true, Max: 200},
			&core.TextField{Name: "provider_order_id", Max: 200},
			&core.TextField{Name: "provider_payment_id", Max: 200},
			&core.NumberField{Name: "coins_earned", OnlyInt: true, Min: float64Ptr(0)},
			&core.TextField{Name: "settled_at", Max: 100},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		transactions.AddIndex("idx_transactions_idempotency_key", true, "idempotency_key", "")
		transactions.AddIndex("idx_transactions_provider_order", false, "provider_order_id", "")
		transactions.AddIndex("idx_transactions_status_updated", false, "status, updated", "")
		transactions.AddIndex("idx_transactions_user", false, "user", "")
		if err := app.Save(transactions); err != nil {
			return err
		}

		wallets := core.NewBaseCollection("wallets")
		wallets.Fields.Add(
			&core.TextField{Name: "user", Required: true, Max: 100},
			&core.NumberField{Name: "balance", OnlyInt: true, Min: float64Ptr(0)},
			&core.NumberField{Name: "version", OnlyInt: true, Min: float64Ptr(0)},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		wallets.AddIndex("idx_wallets_user", true, "user", "")
		if err := app.Save(wallets); err != nil {
			return err
		}

		ledger := core.NewBaseCollection("ledger_entries")
		ledger.Fields.Add(
			&core.TextField{Name: "wallet_user", Required: true, Max: 100},
			&core.NumberField{Name: "delta", Required: true, OnlyInt: true},
			&core.SelectField{Name: "reason", Required: true, MaxSelect: 1, Values: []string{"redemption", "cashback", "reward", "reversal"}},
			&core.TextField{Name: "transaction", Max: 100},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		ledger.AddIndex("idx_ledger_user_created", false, "wallet_user, created", "")
		ledger.AddIndex("idx_ledger_transaction_reason", true, "`transaction`, reason", "")
		if err := app.Save(ledger); err != nil {
			return err
		}

		draws := core.NewBaseCollection("reward_draws")
		draws.Fields.Add(
			&core.TextField{Name: "user", Required: true, Max: 100},
			&core.TextField{Name: "transaction", Required: true, Max: 100},
			&core.NumberField{Name: "segment_index", OnlyInt: true, Min: float64Ptr(0)},
			&core.NumberField{Name: "coins", Required: true, OnlyInt: true, Min: float64Ptr(0)},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		draws.AddIndex("idx_reward_draws_transaction", true, "`transaction`", "")
		if err := app.Save(draws); err != nil {
			return err
		}

		return nil
	}, func(app core.App) error {
		for _, name := range []string{"reward_draws", "ledger_entries", "wallets", "transactions", "units"} {
			col, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				continue
			}
			if err := app.Delete(col); err != nil {
				return err
			}
		}
		return nil
	})
}

func float64Ptr(v float64) *float64 {
	return &v
}
