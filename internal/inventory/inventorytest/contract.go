// Package inventorytest holds the behavioural checks every inventory.Ledger
// implementation must pass. Backends that need containers call it from the
// integration build.
package inventorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
)

// Factory returns an empty ledger. Product ids passed to the ledger are unique
// per subtest, so a shared backing store is fine.
type Factory func(t *testing.T) inventory.Ledger

func RunLedgerContract(t *testing.T, newLedger Factory) {
	t.Helper()

	t.Run("unknown product", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		id := productID()

		_, err := l.Get(ctx, id)
		require.ErrorIs(t, err, inventory.ErrUnknownProduct)

		_, err = l.TryDecrement(ctx, id, 1)
		require.ErrorIs(t, err, inventory.ErrUnknownProduct)

		_, err = l.Replenish(ctx, id, 1)
		require.ErrorIs(t, err, inventory.ErrUnknownProduct)
	})

	t.Run("set and get", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		id := productID()

		require.NoError(t, l.SetAvailable(ctx, id, 10))
		require.NoError(t, l.SetAvailable(ctx, id, 4))

		item, err := l.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, inventory.StockItem{ProductID: id, Available: 4}, item)

		require.ErrorIs(t, l.SetAvailable(ctx, id, -1), inventory.ErrInvalidQuantity)
	})

	t.Run("decrement and replenish", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		id := productID()
		require.NoError(t, l.SetAvailable(ctx, id, 5))

		left, err := l.TryDecrement(ctx, id, 3)
		require.NoError(t, err)
		require.Equal(t, 2, left)

		_, err = l.TryDecrement(ctx, id, 3)
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)
		var short *inventory.InsufficientStockError
		require.True(t, errors.As(err, &short))
		require.Equal(t, id, short.ProductID)
		require.Equal(t, 2, short.Available)

		item, err := l.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 2, item.Available, "failed decrement must not change stock")

		total, err := l.Replenish(ctx, id, 8)
		require.NoError(t, err)
		require.Equal(t, 10, total)

		_, err = l.TryDecrement(ctx, id, 0)
		require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
		_, err = l.Replenish(ctx, id, -2)
		require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	})

	t.Run("stock never leaves the quantity range", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		id := productID()
		require.NoError(t, l.SetAvailable(ctx, id, inventory.MaxQuantity-1))
		require.ErrorIs(t, l.SetAvailable(ctx, id, inventory.MaxQuantity+1), inventory.ErrInvalidQuantity)

		_, err := l.Replenish(ctx, id, 2)
		require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
		_, err = l.Replenish(ctx, id, inventory.MaxQuantity+1)
		require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
		requireStock(t, l, id, inventory.MaxQuantity-1)

		total, err := l.Replenish(ctx, id, 1)
		require.NoError(t, err)
		require.Equal(t, inventory.MaxQuantity, total)

		_, err = l.TryDecrement(ctx, id, inventory.MaxQuantity+1)
		require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
		requireStock(t, l, id, inventory.MaxQuantity)
	})

	t.Run("last units go to exactly one caller", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		id := productID()
		require.NoError(t, l.SetAvailable(ctx, id, 10))

		var ok, short atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.TryDecrement(ctx, id, 6)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, inventory.ErrInsufficientStock):
					short.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, 1, ok.Load())
		require.EqualValues(t, 1, short.Load())
		item, err := l.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 4, item.Available)
	})

	t.Run("concurrent decrements never oversell", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		id := productID()
		require.NoError(t, l.SetAvailable(ctx, id, 30))

		const workers, perWorker = 20, 3
		var committed atomic.Int32
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					if _, err := l.TryDecrement(ctx, id, 1); err == nil {
						committed.Add(1)
					} else if !errors.Is(err, inventory.ErrInsufficientStock) {
						t.Errorf("unexpected error: %v", err)
					}
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, 30, committed.Load())
		item, err := l.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 0, item.Available)
	})

	if _, ok := newLedger(t).(inventory.Reserver); !ok {
		return
	}

	t.Run("reserve is all or nothing", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		r := l.(inventory.Reserver)
		base := productID()
		a, b, missing := base+"-a", base+"-b", base+"-missing"
		require.NoError(t, l.SetAvailable(ctx, a, 5))
		require.NoError(t, l.SetAvailable(ctx, b, 1))

		res, err := r.Reserve(ctx, "order-short", []inventory.Line{
			{ProductID: a, Quantity: 2},
			{ProductID: b, Quantity: 2},
		})
		require.NoError(t, err)
		require.False(t, res.OK())
		require.Equal(t, []inventory.DepletedLine{{ProductID: b, Requested: 2, Available: 1}}, res.Depleted)
		requireStock(t, l, a, 5)
		requireStock(t, l, b, 1)

		res, err = r.Reserve(ctx, "order-missing", []inventory.Line{
			{ProductID: a, Quantity: 1},
			{ProductID: missing, Quantity: 1},
		})
		require.NoError(t, err)
		require.Equal(t, []string{missing}, res.Unknown)
		requireStock(t, l, a, 5)

		res, err = r.Reserve(ctx, "order-ok", []inventory.Line{
			{ProductID: b, Quantity: 1},
			{ProductID: a, Quantity: 1},
			{ProductID: a, Quantity: 2},
		})
		require.NoError(t, err)
		require.True(t, res.OK())
		require.Equal(t, []inventory.Line{{ProductID: a, Quantity: 3}, {ProductID: b, Quantity: 1}}, res.Reserved)
		requireStock(t, l, a, 2)
		requireStock(t, l, b, 0)
	})

	t.Run("reserve rejects invalid lines", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		r := l.(inventory.Reserver)
		base := productID()
		a, b := base+"-a", base+"-b"
		require.NoError(t, l.SetAvailable(ctx, a, 5))
		require.NoError(t, l.SetAvailable(ctx, b, 5))

		for name, lines := range map[string][]inventory.Line{
			"zero":      {{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 0}},
			"negative":  {{ProductID: a, Quantity: 2}, {ProductID: b, Quantity: -3}},
			"too large": {{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: inventory.MaxQuantity + 1}},
		} {
			_, err := r.Reserve(ctx, "order-"+name, lines)
			require.ErrorIs(t, err, inventory.ErrInvalidQuantity, name)
		}
		requireStock(t, l, a, 5)
		requireStock(t, l, b, 5)
	})
}

func requireStock(t *testing.T, l inventory.Ledger, productID string, want int) {
	t.Helper()
	item, err := l.Get(context.Background(), productID)
	require.NoError(t, err)
	require.Equal(t, want, item.Available, "stock of %s", productID)
}

var seq atomic.Int64

func productID() string {
	return fmt.Sprintf("p-%d", seq.Add(1))
}
