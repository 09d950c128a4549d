package inventory

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryLedger keeps stock in process memory. Each product is an atomic
// counter updated with a compare-and-swap loop, so operations on different
// products never contend and readers never take a lock on the hot path.
type MemoryLedger struct {
	mu     sync.RWMutex
	stocks map[string]*atomic.Int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{stocks: make(map[string]*atomic.Int64)}
}

func (l *MemoryLedger) counter(productID string) (*atomic.Int64, bool) {
	l.mu.RLock()
	c, ok := l.stocks[productID]
	l.mu.RUnlock()
	return c, ok
}

func (l *MemoryLedger) Get(ctx context.Context, productID string) (StockItem, error) {
	c, ok := l.counter(productID)
	if !ok {
		return StockItem{}, ErrUnknownProduct
	}
	return StockItem{ProductID: productID, Available: int(c.Load())}, nil
}

func (l *MemoryLedger) SetAvailable(ctx context.Context, productID string, available int) error {
	if productID == "" || available < 0 || available > MaxQuantity {
		return ErrInvalidQuantity
	}
	if c, ok := l.counter(productID); ok {
		c.Store(int64(available))
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.stocks[productID]
	if !ok {
		c = new(atomic.Int64)
		l.stocks[productID] = c
	}
	c.Store(int64(available))
	return nil
}

func (l *MemoryLedger) TryDecrement(ctx context.Context, productID string, quantity int) (int, error) {
	if !ValidQuantity(quantity) {
		return 0, ErrInvalidQuantity
	}
	c, ok := l.counter(productID)
	if !ok {
		return 0, ErrUnknownProduct
	}
	for {
		cur := c.Load()
		if cur < int64(quantity) {
			return int(cur), &InsufficientStockError{ProductID: productID, Requested: quantity, Available: int(cur)}
		}
		if c.CompareAndSwap(cur, cur-int64(quantity)) {
			return int(cur) - quantity, nil
		}
	}
}

// Replenish fails with ErrInvalidQuantity when the new level would exceed
// MaxQuantity. The stock is left unchanged in that case.
func (l *MemoryLedger) Replenish(ctx context.Context, productID string, quantity int) (int, error) {
	if !ValidQuantity(quantity) {
		return 0, ErrInvalidQuantity
	}
	c, ok := l.counter(productID)
	if !ok {
		return 0, ErrUnknownProduct
	}
	for {
		cur := c.Load()
		if cur > MaxQuantity-int64(quantity) {
			return int(cur), ErrInvalidQuantity
		}
		if c.CompareAndSwap(cur, cur+int64(quantity)) {
			return int(cur) + quantity, nil
		}
	}
}
