package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/fulfillment"
)

// ProcessOrder submits an order. The response body is the order's Result;
// the status code reflects its outcome.
func (h *Handler) ProcessOrder(w http.ResponseWriter, r *http.Request) {
	var order fulfillment.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": string(fulfillment.StatusRejected),
			"reason": string(fulfillment.ReasonInvalidQuantity),
			"error":  "malformed order",
		})
		return
	}

	res, err := h.engine.Submit(r.Context(), order)
	if err != nil {
		h.log.Error().Err(err).Str("order_id", order.OrderID).Msg("process order")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := statusFor(res)
	if res.Reason == fulfillment.ReasonBusy {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, res)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	res, ok, err := h.engine.Outcome(r.Context(), orderID)
	if err != nil {
		h.log.Error().Err(err).Str("order_id", orderID).Msg("lookup order")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func statusFor(res fulfillment.Result) int {
	if res.Status != fulfillment.StatusRejected {
		return http.StatusOK
	}
	switch res.Reason {
	case fulfillment.ReasonInsufficientStock:
		return http.StatusConflict
	case fulfillment.ReasonUnknownProduct:
		return http.StatusNotFound
	case fulfillment.ReasonInvalidQuantity:
		return http.StatusBadRequest
	case fulfillment.ReasonBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}
