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

type RewardHandler struct {
	app     *pocketbase.PocketBase
	rewards *services.RewardService
}

func NewRewardHandler(app *pocketbase.PocketBase, rewards *services.RewardService) *RewardHandler {
	return &RewardHandler{
		app:     app,
		rewards: rewards,
	}
}

// Spin draws the reward wheel for a settled purchase. One draw per
// transaction; replays return the recorded draw.
func (h *RewardHandler) Spin(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.TransactionID == "" {
		return apis.NewBadRequestError("transaction_id is required", nil)
	}
	ctx := e.Request.Context()

	draw, err := h.rewards.Spin(ctx, e.Auth.Id, req.TransactionID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTransactionNotFound):
			return apis.NewNotFoundError("Transaction not found", nil)
		case errors.Is(err, status.ErrNotSettled):
			return apis.NewApiError(http.StatusConflict, "Transaction is not settled yet", nil)
		case errors.Is(err, status.ErrAlreadyDrawn):
			existing, gerr := h.rewards.Draw(ctx, req.TransactionID)
			if gerr != nil {
				return apis.NewApiError(http.StatusConflict, "Wheel already spun for this transaction", nil)
			}
			return e.JSON(http.StatusOK, map[string]any{
				"coins":    existing.Coins,
				"replayed": true,
			})
		default:
			slog.Error("spin failed", "transaction", req.TransactionID, "error", err)
			return apis.NewInternalServerError("internal error", err)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"coins":    draw.Coins,
		"replayed": false,
	})
}

// Segments publishes the wheel layout so clients can render it.
func (h *RewardHandler) Segments(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, map[string]any{"segments": h.rewards.Segments()})
}
