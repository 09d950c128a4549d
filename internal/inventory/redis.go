package inventory

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLedger keeps stock counters in Redis. Check-and-decrement runs as a Lua
// script, which Redis executes without interleaving other commands.
//
// Multi-line reservations touch several keys in one script, so on Redis
// Cluster every product of an order must hash to the same slot.
type RedisLedger struct {
	client redis.UniversalClient
}

func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

func stockKey(productID string) string {
	return fmt.Sprintf("stock:{%s}", productID)
}

// KEYS[1]: stock key. ARGV[1]: quantity.
// Returns {code, value}: code 1 = decremented (value = new stock),
// 0 = insufficient (value = current stock), -1 = unknown product.
var decrementScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
    return {-1, 0}
end
cur = tonumber(cur)
local qty = tonumber(ARGV[1])
if cur < qty then
    return {0, cur}
end
return {1, redis.call('DECRBY', KEYS[1], qty)}
`)

// KEYS[1]: stock key. ARGV[1]: quantity. ARGV[2]: maximum stock.
// Returns {code, value}: code 1 = added (value = new stock),
// 0 = would exceed the maximum (value = current stock), -1 = unknown product.
var replenishScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
    return {-1, 0}
end
cur = tonumber(cur)
if cur + tonumber(ARGV[1]) > tonumber(ARGV[2]) then
    return {0, cur}
end
return {1, redis.call('INCRBY', KEYS[1], ARGV[1])}
`)

// KEYS: stock keys in product id order. ARGV: quantities, same order.
// Returns {status, avail_1 .. avail_n}; status 1 means every key was
// decremented, 0 means nothing changed. avail_i is -1 for unknown products.
var reserveScript = redis.NewScript(`
local avail = {}
local status = 1
for i, key in ipairs(KEYS) do
    local cur = redis.call('GET', key)
    if not cur then
        avail[i] = -1
        status = 0
    else
        cur = tonumber(cur)
        avail[i] = cur
        if cur < tonumber(ARGV[i]) then
            status = 0
        end
    end
end
if status == 1 then
    for i, key in ipairs(KEYS) do
        redis.call('DECRBY', key, ARGV[i])
    end
end
table.insert(avail, 1, status)
return avail
`)

func (l *RedisLedger) Get(ctx context.Context, productID string) (StockItem, error) {
	n, err := l.client.Get(ctx, stockKey(productID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StockItem{}, ErrUnknownProduct
		}
		return StockItem{}, mapRedisError(err, "get "+productID)
	}
	return StockItem{ProductID: productID, Available: n}, nil
}

func (l *RedisLedger) SetAvailable(ctx context.Context, productID string, available int) error {
	if productID == "" || available < 0 || available > MaxQuantity {
		return ErrInvalidQuantity
	}
	if err := l.client.Set(ctx, stockKey(productID), available, 0).Err(); err != nil {
		return mapRedisError(err, "set "+productID)
	}
	return nil
}

func (l *RedisLedger) TryDecrement(ctx context.Context, productID string, quantity int) (int, error) {
	if !ValidQuantity(quantity) {
		return 0, ErrInvalidQuantity
	}
	out, err := decrementScript.Run(ctx, l.client, []string{stockKey(productID)}, quantity).Int64Slice()
	if err != nil {
		return 0, mapRedisError(err, "decrement "+productID)
	}
	if len(out) != 2 {
		return 0, errors.Errorf("decrement %s: unexpected script reply %v", productID, out)
	}
	switch out[0] {
	case 1:
		return int(out[1]), nil
	case 0:
		return int(out[1]), &InsufficientStockError{ProductID: productID, Requested: quantity, Available: int(out[1])}
	default:
		return 0, ErrUnknownProduct
	}
}

func (l *RedisLedger) Replenish(ctx context.Context, productID string, quantity int) (int, error) {
	if !ValidQuantity(quantity) {
		return 0, ErrInvalidQuantity
	}
	out, err := replenishScript.Run(ctx, l.client, []string{stockKey(productID)}, quantity, MaxQuantity).Int64Slice()
	if err != nil {
		return 0, mapRedisError(err, "replenish "+productID)
	}
	if len(out) != 2 {
		return 0, errors.Errorf("replenish %s: unexpected script reply %v", productID, out)
	}
	switch out[0] {
	case 1:
		return int(out[1]), nil
	case 0:
		return int(out[1]), ErrInvalidQuantity
	default:
		return 0, ErrUnknownProduct
	}
}

func (l *RedisLedger) Reserve(ctx context.Context, orderID string, lines []Line) (ReserveResult, error) {
	lines = Normalize(lines)
	if err := checkLines(lines); err != nil {
		return ReserveResult{}, err
	}
	keys := make([]string, len(lines))
	args := make([]any, len(lines))
	for i, ln := range lines {
		keys[i] = stockKey(ln.ProductID)
		args[i] = ln.Quantity
	}

	out, err := reserveScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return ReserveResult{}, mapRedisError(err, "reserve "+orderID)
	}
	if len(out) != len(lines)+1 {
		return ReserveResult{}, errors.Errorf("reserve %s: unexpected script reply %v", orderID, out)
	}

	res := ReserveResult{}
	if out[0] == 1 {
		res.Reserved = append(res.Reserved, lines...)
		return res, nil
	}
	for i, ln := range lines {
		avail := int(out[i+1])
		switch {
		case avail < 0:
			res.Unknown = append(res.Unknown, ln.ProductID)
		case avail < ln.Quantity:
			res.Depleted = append(res.Depleted, DepletedLine{ProductID: ln.ProductID, Requested: ln.Quantity, Available: avail})
		}
	}
	return res, nil
}

func mapRedisError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrBusy, op)
	}
	return errors.Wrap(err, op)
}
