package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/fulfillment"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
)

// Engine is what the API needs from fulfillment.Engine.
type Engine interface {
	Submit(ctx context.Context, order fulfillment.Order) (fulfillment.Result, error)
	Outcome(ctx context.Context, orderID string) (fulfillment.Result, bool, error)
	Stock(ctx context.Context, productID string) (inventory.StockItem, error)
	Replenish(ctx context.Context, productID string, quantity int) (inventory.StockItem, error)
	SetStock(ctx context.Context, productID string, available int) (inventory.StockItem, error)
}

type Handler struct {
	engine Engine
	log    zerolog.Logger
}

func NewHandler(engine Engine, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, log: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	item, err := h.engine.Stock(r.Context(), productID)
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

type replenishRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) Replenish(w http.ResponseWriter, r *http.Request) {
	var req replenishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	item, err := h.engine.Replenish(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// quantity accepts a JSON number or a string holding one.
type quantity int

func (q *quantity) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("quantity %s: %w", string(b), err)
	}
	*q = quantity(n)
	return nil
}

type adjustRequest struct {
	ProductID string   `json:"productId"`
	Available quantity `json:"available"`
}

func (h *Handler) AdjustAvailability(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" || req.Available < 0 || req.Available > inventory.MaxQuantity {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	item, err := h.engine.SetStock(r.Context(), req.ProductID, int(req.Available))
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) writeStockError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrUnknownProduct):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, inventory.ErrInvalidQuantity):
		http.Error(w, "bad request", http.StatusBadRequest)
	case errors.Is(err, inventory.ErrBusy):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "busy", http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("stock request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
