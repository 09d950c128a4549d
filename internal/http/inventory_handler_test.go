package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/fulfillment"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
)

// fakeEngine serves stock from a map and fails with the configured errors.
type fakeEngine struct {
	items     map[string]int
	outcomes  map[string]fulfillment.Result
	submit    func(fulfillment.Order) (fulfillment.Result, error)
	stockErr  error
	setErr    error
	lookupErr error
}

func (f *fakeEngine) Submit(ctx context.Context, order fulfillment.Order) (fulfillment.Result, error) {
	return f.submit(order)
}

func (f *fakeEngine) Outcome(ctx context.Context, orderID string) (fulfillment.Result, bool, error) {
	if f.lookupErr != nil {
		return fulfillment.Result{}, false, f.lookupErr
	}
	res, ok := f.outcomes[orderID]
	return res, ok, nil
}

func (f *fakeEngine) Stock(ctx context.Context, productID string) (inventory.StockItem, error) {
	if f.stockErr != nil {
		return inventory.StockItem{}, f.stockErr
	}
	v, ok := f.items[productID]
	if !ok {
		return inventory.StockItem{}, inventory.ErrNotFound
	}
	return inventory.StockItem{ProductID: productID, Available: v}, nil
}

func (f *fakeEngine) Replenish(ctx context.Context, productID string, quantity int) (inventory.StockItem, error) {
	if f.stockErr != nil {
		return inventory.StockItem{}, f.stockErr
	}
	if quantity <= 0 {
		return inventory.StockItem{}, inventory.ErrInvalidQuantity
	}
	if _, ok := f.items[productID]; !ok {
		return inventory.StockItem{}, inventory.ErrUnknownProduct
	}
	f.items[productID] += quantity
	return inventory.StockItem{ProductID: productID, Available: f.items[productID]}, nil
}

func (f *fakeEngine) SetStock(ctx context.Context, productID string, available int) (inventory.StockItem, error) {
	if f.setErr != nil {
		return inventory.StockItem{}, f.setErr
	}
	if f.items == nil {
		f.items = map[string]int{}
	}
	f.items[productID] = available
	return inventory.StockItem{ProductID: productID, Available: available}, nil
}

func newTestRouter(engine Engine) http.Handler {
	return NewRouter(NewHandler(engine, zerolog.Nop()), nil)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeEngine{items: map[string]int{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "ok" {
		t.Fatalf("expected body \"ok\", got %q", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	router := NewRouter(NewHandler(&fakeEngine{}, zerolog.Nop()), metrics)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Fatalf("unexpected /metrics response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestGetAvailability_NotFound(t *testing.T) {
	r := newTestRouter(&fakeEngine{items: map[string]int{}})

	req := httptest.NewRequest(http.MethodGet, "/api/inventory/does-not-exist", nil)
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetAvailability_OK(t *testing.T) {
	r := newTestRouter(&fakeEngine{items: map[string]int{"p1": 3}})

	req := httptest.NewRequest(http.MethodGet, "/api/inventory/p1", nil)
	res := httptest.NewRecorder()

	r.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected JSON content type, got %q", ct)
	}

	var item inventory.StockItem
	if err := json.NewDecoder(res.Body).Decode(&item); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if item.ProductID != "p1" || item.Available != 3 {
		t.Fatalf("unexpected body: %+v", item)
	}
}

func TestReplenish(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		stockErr   error
		wantStatus int
		wantStock  int
	}{
		{name: "adds stock", body: `{"productId":"p1","quantity":4}`, wantStatus: http.StatusOK, wantStock: 7},
		{name: "unknown product", body: `{"productId":"nope","quantity":4}`, wantStatus: http.StatusNotFound, wantStock: 3},
		{name: "zero quantity", body: `{"productId":"p1","quantity":0}`, wantStatus: http.StatusBadRequest, wantStock: 3},
		{name: "malformed", body: `{"productId":`, wantStatus: http.StatusBadRequest, wantStock: 3},
		{name: "busy", body: `{"productId":"p1","quantity":1}`, stockErr: inventory.ErrBusy, wantStatus: http.StatusServiceUnavailable, wantStock: 3},
		{name: "store failure", body: `{"productId":"p1","quantity":1}`, stockErr: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantStock: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{items: map[string]int{"p1": 3}, stockErr: tt.stockErr}
			r := newTestRouter(engine)

			req := httptest.NewRequest(http.MethodPost, "/api/inventory/replenish", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			res := httptest.NewRecorder()
			r.ServeHTTP(res, req)

			if res.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d, body: %s", tt.wantStatus, res.Code, res.Body.String())
			}
			if got := engine.items["p1"]; got != tt.wantStock {
				t.Fatalf("expected stock %d, got %d", tt.wantStock, got)
			}
			if tt.wantStatus == http.StatusServiceUnavailable && res.Header().Get("Retry-After") != "1" {
				t.Fatalf("expected Retry-After header")
			}
		})
	}
}

func TestAdjustAvailability_OK(t *testing.T) {
	engine := &fakeEngine{items: map[string]int{}}
	r := newTestRouter(engine)

	body := bytes.NewBufferString(`{"productId":"p1","available":7}`)
	req := httptest.NewRequest(http.MethodPost, "/api/inventory/adjust", body)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	if got := engine.items["p1"]; got != 7 {
		t.Fatalf("expected engine to store 7, got %d", got)
	}
}

func TestAdjustAvailability_StringValue(t *testing.T) {
	engine := &fakeEngine{items: map[string]int{}}
	r := newTestRouter(engine)

	// Sending "7" as a string instead of a number
	body := bytes.NewBufferString(`{"productId":"p1","available":"7"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/inventory/adjust", body)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}

	if got := engine.items["p1"]; got != 7 {
		t.Fatalf("expected engine to store 7, got %d", got)
	}
}

func TestAdjustAvailability_BadRequests(t *testing.T) {
	bodies := map[string]string{
		"invalid JSON":    `{invalid`,
		"non-numeric":     `{"productId":"p1","available":"seven"}`,
		"negative":        `{"productId":"p1","available":-1}`,
		"above maximum":   `{"productId":"p1","available":3000000000}`,
		"missing product": `{"available":2}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			r := newTestRouter(&fakeEngine{items: map[string]int{}})

			req := httptest.NewRequest(http.MethodPost, "/api/inventory/adjust", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			res := httptest.NewRecorder()

			r.ServeHTTP(res, req)

			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", res.Code)
			}
		})
	}
}

func TestAdjustAvailability_ServiceError(t *testing.T) {
	r := newTestRouter(&fakeEngine{items: map[string]int{}, setErr: errors.New("boom")})

	req := httptest.NewRequest(http.MethodPost, "/api/inventory/adjust", strings.NewReader(`{"productId":"p1","available":2}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	r.ServeHTTP(res, req)

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
}
