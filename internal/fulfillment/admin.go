package fulfillment

import (
	"context"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
)

// Stock reads the current level of one product.
func (e *Engine) Stock(ctx context.Context, productID string) (inventory.StockItem, error) {
	return e.ledger.Get(ctx, productID)
}

// Replenish adds quantity to a product's stock and returns the new level.
func (e *Engine) Replenish(ctx context.Context, productID string, quantity int) (inventory.StockItem, error) {
	if productID == "" || !inventory.ValidQuantity(quantity) {
		return inventory.StockItem{}, inventory.ErrInvalidQuantity
	}
	release, err := e.lockAdmin(ctx, productID)
	if err != nil {
		return inventory.StockItem{}, err
	}
	defer release()

	total, err := e.ledger.Replenish(ctx, productID, quantity)
	if err != nil {
		return inventory.StockItem{}, err
	}
	e.metrics.ObserveStockUpdate("replenish")
	e.log.Info().Str("product_id", productID).Int("quantity", quantity).Int("available", total).Msg("stock replenished")
	return inventory.StockItem{ProductID: productID, Available: total}, nil
}

// SetStock sets a product's stock to an absolute level, registering the
// product if it is new.
func (e *Engine) SetStock(ctx context.Context, productID string, available int) (inventory.StockItem, error) {
	if productID == "" || available < 0 || available > inventory.MaxQuantity {
		return inventory.StockItem{}, inventory.ErrInvalidQuantity
	}
	release, err := e.lockAdmin(ctx, productID)
	if err != nil {
		return inventory.StockItem{}, err
	}
	defer release()

	if err := e.ledger.SetAvailable(ctx, productID, available); err != nil {
		return inventory.StockItem{}, err
	}
	e.metrics.ObserveStockUpdate("adjust")
	e.log.Info().Str("product_id", productID).Int("available", available).Msg("stock adjusted")
	return inventory.StockItem{ProductID: productID, Available: available}, nil
}

// Outcome returns the recorded result of a processed order.
func (e *Engine) Outcome(ctx context.Context, orderID string) (Result, bool, error) {
	return e.guard.Lookup(ctx, orderID)
}

// lockAdmin serializes an administrative change with in-flight orders on the
// same product. Atomic ledgers need no process-local lock.
func (e *Engine) lockAdmin(ctx context.Context, productID string) (func(), error) {
	if e.reserver != nil {
		return func() {}, nil
	}
	release, err := e.locks.Acquire(ctx, productID)
	if err != nil {
		return nil, inventory.ErrBusy
	}
	return release, nil
}
