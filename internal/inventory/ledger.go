package inventory

import (
	"context"
	"errors"
	"math"
	"sort"
)

// MaxQuantity bounds both a stock level and a single line quantity. It is the
// range of the inventory_stock.available column.
const MaxQuantity = math.MaxInt32

// ValidQuantity reports whether q can be ordered, decremented or added.
func ValidQuantity(q int) bool {
	return q > 0 && q <= MaxQuantity
}

var (
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	// ErrBusy means the ledger could not obtain its critical section in time.
	// The operation had no effect and may be retried.
	ErrBusy = errors.New("ledger busy")

	// ErrNotFound is kept for lookups that predate the ledger interface.
	ErrNotFound = ErrUnknownProduct
)

// Ledger is the single source of truth for per-product stock.
//
// TryDecrement and Replenish are indivisible with respect to each other on the
// same productID. Get never observes a partially applied update.
type Ledger interface {
	Get(ctx context.Context, productID string) (StockItem, error)
	SetAvailable(ctx context.Context, productID string, available int) error
	TryDecrement(ctx context.Context, productID string, quantity int) (int, error)
	Replenish(ctx context.Context, productID string, quantity int) (int, error)
}

// Reserver is implemented by ledgers that can check and decrement several
// products as one atomic step. Nothing is applied unless every line fits.
type Reserver interface {
	Reserve(ctx context.Context, orderID string, lines []Line) (ReserveResult, error)
}

// Normalize merges lines that reference the same product and returns them
// sorted by product id, which is the canonical lock order. A merged quantity
// that would overflow saturates at math.MaxInt or math.MinInt, so it still
// fails ValidQuantity.
func Normalize(lines []Line) []Line {
	merged := make(map[string]int, len(lines))
	for _, ln := range lines {
		merged[ln.ProductID] = saturatingAdd(merged[ln.ProductID], ln.Quantity)
	}
	out := make([]Line, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func saturatingAdd(a, b int) int {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return math.MaxInt
	case b < 0 && a < math.MinInt-b:
		return math.MinInt
	}
	return a + b
}

// checkLines rejects a reservation before it touches storage.
func checkLines(lines []Line) error {
	for _, ln := range lines {
		if ln.ProductID == "" || !ValidQuantity(ln.Quantity) {
			return ErrInvalidQuantity
		}
	}
	return nil
}
