package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"eventmart/internal/gateway"
	"eventmart/internal/services"
	"eventmart/internal/status"
	"eventmart/models"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type CallbackHandler struct {
	app        *pocketbase.PocketBase
	settlement *services.SettlementService
	gw         *gateway.NetPay
}

func NewCallbackHandler(app *pocketbase.PocketBase, settlement *services.SettlementService, gw *gateway.NetPay) *CallbackHandler {
	return &CallbackHandler{
		app:        app,
		settlement: settlement,
		gw:         gw,
	}
}

// Confirm receives the provider's payment webhook. The provider retries
// until it sees 200, so every success path must answer 200 even when the
// transaction was already settled by an earlier delivery.
func (h *CallbackHandler) Confirm(e *core.RequestEvent) error {
	var notice gateway.CallbackNotice
	if err := e.BindBody(&notice); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if notice.ProviderOrderID == "" || notice.ProviderPaymentID == "" {
		slog.Warn("callback missing identifiers", "order", notice.ProviderOrderID)
		return apis.NewBadRequestError("Invalid callback body", nil)
	}
	ctx := e.Request.Context()

	tx, err := h.settlement.HandleCallback(ctx, &notice)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTransactionNotFound):
			return apis.NewNotFoundError("Unknown order", nil)
		case errors.Is(err, status.ErrVerificationFailed):
			return apis.NewBadRequestError("Signature verification failed", nil)
		default:
			slog.Error("callback handling failed", "order", notice.ProviderOrderID, "error", err)
			return apis.NewInternalServerError("internal error", err)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"code":           200,
		"status":         tx.Status,
		"transaction_id": tx.ID,
	})
}

// SimulateCallback signs and delivers a callback for a pending
// transaction, standing in for the provider during local development.
// Never routed outside the development environment.
func (h *CallbackHandler) SimulateCallback(e *core.RequestEvent) error {
	var req struct {
		TransactionID string `json:"transaction_id"`
		Tamper        bool   `json:"tamper"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	ctx := e.Request.Context()

	tx, err := h.settlement.GetTransactionAny(ctx, req.TransactionID)
	if err != nil {
		return apis.NewNotFoundError("Transaction not found", nil)
	}
	if tx.Status != models.TxStatusPending || tx.ProviderOrderID == "" {
		return apis.NewBadRequestError("Transaction is not awaiting payment", nil)
	}

	paymentID := "sim-" + tx.ID
	sig := h.gw.SignCallback(tx.ProviderOrderID, paymentID)
	if req.Tamper {
		sig = sig + "00"
	}

	notice := &gateway.CallbackNotice{
		ProviderOrderID:   tx.ProviderOrderID,
		ProviderPaymentID: paymentID,
		Signature:         sig,
		Status:            "SUCCESS",
	}

	result, err := h.settlement.HandleCallback(ctx, notice)
	if err != nil {
		if errors.Is(err, status.ErrVerificationFailed) {
			return apis.NewBadRequestError("Signature verification failed", nil)
		}
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"status": result.Status})
}
