package handlers

import (
	"net/http"
	"strconv"

	"eventmart/internal/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type WalletHandler struct {
	app     *pocketbase.PocketBase
	wallets *services.WalletService
}

func NewWalletHandler(app *pocketbase.PocketBase, wallets *services.WalletService) *WalletHandler {
	return &WalletHandler{
		app:     app,
		wallets: wallets,
	}
}

// GetWallet returns the caller's balance. Superusers may read any wallet.
func (h *WalletHandler) GetWallet(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	userID := e.Request.PathValue("userId")
	if userID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}
	ctx := e.Request.Context()

	balance, err := h.wallets.Balance(ctx, userID)
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

// GetLedger returns the wallet's entries, newest first.
func (h *WalletHandler) GetLedger(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	userID := e.Request.PathValue("userId")
	if userID != e.Auth.Id && !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Access denied", nil)
	}
	ctx := e.Request.Context()

	limit := 50
	if raw := e.Request.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	entries, err := h.wallets.Entries(ctx, userID, limit)
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"entries": entries})
}
