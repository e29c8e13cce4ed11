package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxStatusPending  = "pending"
	TxStatusPaid     = "paid"
	TxStatusSettled  = "settled"
	TxStatusFailed   = "failed"
	TxStatusReversed = "reversed"
)

// Failure reasons stored on failed transactions.
const (
	FailurePaymentCreate = "payment_create_failed"
	FailureVerification  = "verification_failed"
	FailureExpired       = "payment_expired"
)

// Transaction is a booking or marketplace order. It is created once per
// reservation attempt and is the unit of idempotency: capacity decrements
// and ledger entries are keyed to its id.
type Transaction struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	UnitID            string          `json:"unit_id"`
	Kind              string          `json:"kind"` // event, product
	Quantity          int             `json:"quantity"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Shipping          decimal.Decimal `json:"shipping"`
	Tax               decimal.Decimal `json:"tax"`
	CoinsRedeemed     int64           `json:"coins_redeemed"`
	FinalAmount       decimal.Decimal `json:"final_amount"`
	ProviderOrderID   string          `json:"provider_order_id,omitempty"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Status            string          `json:"status"` // pending, paid, settled, failed, reversed
	FailureReason     string          `json:"failure_reason,omitempty"`
	CoinsEarned       int64           `json:"coins_earned"`
	IdempotencyKey    string          `json:"idempotency_key"`
	CreatedAt         time.Time       `json:"created_at"`
	SettledAt         *time.Time      `json:"settled_at,omitempty"`
}
