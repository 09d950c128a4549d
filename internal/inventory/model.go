package inventory

import "fmt"

type StockItem struct {
	ProductID string `json:"productId"`
	Available int    `json:"stockQuantity"`
}

type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type DepletedLine struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// ReserveResult describes a multi-line reservation. Reserved is only set when
// every line was decremented; otherwise Depleted and Unknown explain why not.
type ReserveResult struct {
	Reserved []Line
	Depleted []DepletedLine
	Unknown  []string
}

// OK reports whether the reservation was applied.
func (r ReserveResult) OK() bool {
	return len(r.Depleted) == 0 && len(r.Unknown) == 0
}

// InsufficientStockError is returned by TryDecrement when the product does
// not hold enough stock. It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
