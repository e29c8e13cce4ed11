package status

import "errors"

var (
	ErrCapacityExceeded    = errors.New("inventory: capacity exceeded")
	ErrUnitInactive        = errors.New("inventory: unit inactive")
	ErrUnitNotFound        = errors.New("inventory: unit not found")
	ErrInsufficientCoins   = errors.New("wallet: insufficient coins")
	ErrLedgerConflict      = errors.New("wallet: ledger version conflict")
	ErrIdempotencyKeyTaken = errors.New("reservation: idempotency key belongs to another account")
	ErrPaymentCreateFailed = errors.New("payment: create intent failed")
	ErrVerificationFailed  = errors.New("payment: callback verification failed")
	ErrCommitFailed        = errors.New("settlement: commit failed")
	ErrTransactionNotFound = errors.New("settlement: transaction not found")
	ErrAlreadyDrawn        = errors.New("reward: transaction already drawn")
	ErrNotSettled          = errors.New("reward: transaction not settled")
)
