package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"eventmart/internal/services"
	"eventmart/internal/status"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	app        *pocketbase.PocketBase
	settlement *services.SettlementService
	wallets    *services.WalletService
}

func NewAdminHandler(app *pocketbase.PocketBase, settlement *services.SettlementService, wallets *services.WalletService) *AdminHandler {
	return &AdminHandler{
		app:        app,
		settlement: settlement,
		wallets:    wallets,
	}
}

// ListStuckSettlements lists paid transactions whose ledger commit has
// not landed yet.
func (h *AdminHandler) ListStuckSettlements(e *core.RequestEvent) error {
	ctx := e.Request.Context()

	stuck, err := h.settlement.ListStuck(ctx)
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"count":        len(stuck),
		"transactions": stuck,
	})
}

// RetrySettlement forces one commit attempt for a stuck transaction.
func (h *AdminHandler) RetrySettlement(e *core.RequestEvent) error {
	transactionID := e.Request.PathValue("transactionId")
	ctx := e.Request.Context()

	tx, err := h.settlement.ForceCommit(ctx, transactionID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTransactionNotFound):
			return apis.NewNotFoundError("Transaction not found", nil)
		case errors.Is(err, status.ErrInsufficientCoins):
			return apis.NewApiError(http.StatusConflict, "Wallet balance no longer covers the redeemed coins", nil)
		default:
			slog.Error("forced settlement retry failed", "transaction", transactionID, "error", err)
			return apis.NewInternalServerError("internal error", err)
		}
	}

	return e.JSON(http.StatusOK, tx)
}

// ReverseSettlement unwinds a settled transaction after the provider
// reversed the payment.
func (h *AdminHandler) ReverseSettlement(e *core.RequestEvent) error {
	transactionID := e.Request.PathValue("transactionId")
	ctx := e.Request.Context()

	tx, err := h.settlement.Reverse(ctx, transactionID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTransactionNotFound):
			return apis.NewNotFoundError("Transaction not found", nil)
		case errors.Is(err, status.ErrNotSettled):
			return apis.NewApiError(http.StatusConflict, "Only settled transactions can be reversed", nil)
		case errors.Is(err, status.ErrInsufficientCoins):
			return apis.NewApiError(http.StatusConflict, "Wallet balance no longer covers the earned coins", nil)
		default:
			slog.Error("settlement reversal failed", "transaction", transactionID, "error", err)
			return apis.NewInternalServerError("internal error", err)
		}
	}

	return e.JSON(http.StatusOK, tx)
}

// AuditWallet compares a wallet's balance with the fold of its ledger.
func (h *AdminHandler) AuditWallet(e *core.RequestEvent) error {
	userID := e.Request.PathValue("userId")
	ctx := e.Request.Context()

	balance, ledgerSum, consistent, err := h.wallets.Audit(ctx, userID)
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"user_id":    userID,
		"balance":    balance,
		"ledger_sum": ledgerSum,
		"consistent": consistent,
	})
}
