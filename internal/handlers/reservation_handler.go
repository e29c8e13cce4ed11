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

type ReservationHandler struct {
	app        *pocketbase.PocketBase
	settlement *services.SettlementService
}

func NewReservationHandler(app *pocketbase.PocketBase, settlement *services.SettlementService) *ReservationHandler {
	return &ReservationHandler{
		app:        app,
		settlement: settlement,
	}
}

// Reserve opens a purchase: holds capacity, prices it, and either returns
// a payment code or (for zero-amount purchases) the already-settled
// transaction. Safe to retry with the same idempotency key.
func (h *ReservationHandler) Reserve(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.ReserveRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	ctx := e.Request.Context()

	result, err := h.settlement.Reserve(ctx, e.Auth.Id, req)
	if err != nil {
		if errors.Is(err, status.ErrPaymentCreateFailed) {
			slog.Error("payment order creation failed", "user", e.Auth.Id, "unit", req.UnitID, "error", err)
		}
		return reserveError(err)
	}

	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}

	return e.JSON(code, map[string]any{
		"transaction": result.Transaction,
		"pay_code":    result.PayCode,
	})
}

// reserveError maps reservation failures onto API responses. Only capacity
// contention and a foreign idempotency key are conflicts; an inactive unit
// is plain bad input.
func reserveError(err error) error {
	switch {
	case errors.Is(err, status.ErrUnitNotFound):
		return apis.NewNotFoundError("Unit not found", nil)
	case errors.Is(err, status.ErrUnitInactive):
		return apis.NewBadRequestError("Unit is not on sale", nil)
	case errors.Is(err, status.ErrCapacityExceeded):
		return apis.NewApiError(http.StatusConflict, "Not enough capacity remaining", nil)
	case errors.Is(err, status.ErrIdempotencyKeyTaken):
		return apis.NewApiError(http.StatusConflict, "Idempotency key already in use", nil)
	case errors.Is(err, status.ErrPaymentCreateFailed):
		return apis.NewApiError(http.StatusBadGateway, "Payment provider unavailable, reservation released", nil)
	default:
		return apis.NewBadRequestError(err.Error(), nil)
	}
}

// GetTransaction returns one of the caller's transactions.
func (h *ReservationHandler) GetTransaction(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	transactionID := e.Request.PathValue("transactionId")
	ctx := e.Request.Context()

	tx, err := h.settlement.GetTransaction(ctx, transactionID, e.Auth.Id)
	if err != nil {
		return apis.NewNotFoundError("Transaction not found", nil)
	}

	return e.JSON(http.StatusOK, tx)
}

// ListUnits returns the purchasable catalog.
func (h *ReservationHandler) ListUnits(e *core.RequestEvent) error {
	records, err := h.app.FindRecordsByFilter(
		"units",
		"active = true",
		"-created",
		200,
		0,
	)
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}

	units := make([]map[string]any, 0, len(records))
	for _, r := range records {
		capacity := int(r.GetInt("capacity"))
		reserved := int(r.GetInt("reserved"))
		units = append(units, map[string]any{
			"id":             r.Id,
			"name":           r.GetString("name"),
			"kind":           r.GetString("kind"),
			"price":          r.GetFloat("price"),
			"remaining":      capacity - reserved,
			"coins_per_unit": r.GetInt("coins_per_unit"),
		})
	}

	return e.JSON(http.StatusOK, map[string]any{"units": units})
}
