package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/fulfillment"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
)

func engineWithStock(t *testing.T, stock map[string]int) *fulfillment.Engine {
	t.Helper()
	ledger := inventory.NewMemoryLedger()
	for id, qty := range stock {
		require.NoError(t, ledger.SetAvailable(context.Background(), id, qty))
	}
	return fulfillment.NewEngine(ledger)
}

func postOrder(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, fulfillment.Result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/orders/process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var res fulfillment.Result
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	}
	return rec, res
}

func TestProcessOrder_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantResult fulfillment.Status
		wantReason fulfillment.Reason
		wantStock  int
	}{
		{
			name:       "committed",
			body:       `{"orderId":"o1","items":[{"productId":"p1","quantity":2}]}`,
			wantStatus: http.StatusOK,
			wantResult: fulfillment.StatusCommitted,
			wantStock:  3,
		},
		{
			name:       "insufficient stock",
			body:       `{"orderId":"o2","items":[{"productId":"p1","quantity":6}]}`,
			wantStatus: http.StatusConflict,
			wantResult: fulfillment.StatusRejected,
			wantReason: fulfillment.ReasonInsufficientStock,
			wantStock:  5,
		},
		{
			name:       "unknown product",
			body:       `{"orderId":"o3","items":[{"productId":"ghost","quantity":1}]}`,
			wantStatus: http.StatusNotFound,
			wantResult: fulfillment.StatusRejected,
			wantReason: fulfillment.ReasonUnknownProduct,
			wantStock:  5,
		},
		{
			name:       "zero quantity",
			body:       `{"orderId":"o4","items":[{"productId":"p1","quantity":0}]}`,
			wantStatus: http.StatusBadRequest,
			wantResult: fulfillment.StatusRejected,
			wantReason: fulfillment.ReasonInvalidQuantity,
			wantStock:  5,
		},
		{
			name:       "no items",
			body:       `{"orderId":"o5","items":[]}`,
			wantStatus: http.StatusBadRequest,
			wantResult: fulfillment.StatusRejected,
			wantReason: fulfillment.ReasonInvalidQuantity,
			wantStock:  5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := engineWithStock(t, map[string]int{"p1": 5})
			router := newTestRouter(engine)

			rec, res := postOrder(t, router, tt.body)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			require.Equal(t, tt.wantResult, res.Status)
			require.Equal(t, tt.wantReason, res.Reason)

			item, err := engine.Stock(context.Background(), "p1")
			require.NoError(t, err)
			require.Equal(t, tt.wantStock, item.Available)
		})
	}
}

// Quantities outside the stock column range are client errors, never 500s.
func TestOutOfRangeQuantitiesAreBadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "order line", path: "/api/orders/process", body: `{"orderId":"big","items":[{"productId":"p1","quantity":3000000000}]}`},
		{name: "merged order lines", path: "/api/orders/process", body: `{"orderId":"sum","items":[{"productId":"p1","quantity":9223372036854775807},{"productId":"p1","quantity":9223372036854775807},{"productId":"p1","quantity":3}]}`},
		{name: "replenish", path: "/api/inventory/replenish", body: `{"productId":"p1","quantity":3000000000}`},
		{name: "replenish past maximum", path: "/api/inventory/replenish", body: `{"productId":"p1","quantity":2147483647}`},
		{name: "adjust", path: "/api/inventory/adjust", body: `{"productId":"p1","available":3000000000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := engineWithStock(t, map[string]int{"p1": 5})
			router := newTestRouter(engine)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			item, err := engine.Stock(context.Background(), "p1")
			require.NoError(t, err)
			require.Equal(t, 5, item.Available)
		})
	}
}

func TestProcessOrder_MalformedJSON(t *testing.T) {
	router := newTestRouter(engineWithStock(t, map[string]int{"p1": 5}))

	rec, res := postOrder(t, router, `{"orderId":"o1","items":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, fulfillment.ReasonInvalidQuantity, res.Reason)
}

func TestProcessOrder_DuplicateCarriesOriginal(t *testing.T) {
	engine := engineWithStock(t, map[string]int{"p1": 10})
	router := newTestRouter(engine)
	body := `{"orderId":"dup","items":[{"productId":"p1","quantity":4}]}`

	rec, first := postOrder(t, router, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, fulfillment.StatusCommitted, first.Status)

	rec, second := postOrder(t, router, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, fulfillment.StatusDuplicate, second.Status)
	require.NotNil(t, second.Original)
	require.Equal(t, fulfillment.StatusCommitted, second.Original.Status)

	item, err := engine.Stock(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 6, item.Available)
}

func TestProcessOrder_GeneratesOrderID(t *testing.T) {
	router := newTestRouter(engineWithStock(t, map[string]int{"p1": 1}))

	rec, res := postOrder(t, router, `{"items":[{"productId":"p1","quantity":1}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, res.OrderID)
}

func TestProcessOrder_BusySetsRetryAfter(t *testing.T) {
	engine := &fakeEngine{submit: func(o fulfillment.Order) (fulfillment.Result, error) {
		return fulfillment.Result{OrderID: o.OrderID, Status: fulfillment.StatusRejected, Reason: fulfillment.ReasonBusy, Retryable: true}, nil
	}}
	router := newTestRouter(engine)

	rec, res := postOrder(t, router, `{"orderId":"o1","items":[{"productId":"p1","quantity":1}]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.True(t, res.Retryable)
}

func TestProcessOrder_EngineError(t *testing.T) {
	engine := &fakeEngine{submit: func(fulfillment.Order) (fulfillment.Result, error) {
		return fulfillment.Result{}, errors.New("db down")
	}}
	router := newTestRouter(engine)

	rec, _ := postOrder(t, router, `{"orderId":"o1","items":[{"productId":"p1","quantity":1}]}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", strings.TrimSpace(rec.Body.String()))
}

func TestGetOrder(t *testing.T) {
	engine := &fakeEngine{outcomes: map[string]fulfillment.Result{
		"o1": {OrderID: "o1", Status: fulfillment.StatusCommitted},
	}}
	router := NewRouter(NewHandler(engine, zerolog.Nop()), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/o1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res fulfillment.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Equal(t, fulfillment.StatusCommitted, res.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	engine.lookupErr = errors.New("db down")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/o1", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
