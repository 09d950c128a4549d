package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresRepository is a Ledger backed by the inventory_stock table. Every
// single-product mutation is one conditional UPDATE, so Postgres row locking
// provides the per-product linearization.
type PostgresRepository struct {
	pool     DBPool
	lockWait time.Duration
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// WithLockWait bounds how long a statement may wait on a row lock before the
// call fails with ErrBusy. Zero leaves only the caller's context in charge.
func (r *PostgresRepository) WithLockWait(d time.Duration) *PostgresRepository {
	return &PostgresRepository{pool: r.pool, lockWait: d}
}

func (r *PostgresRepository) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.lockWait <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.lockWait)
}

func (r *PostgresRepository) Get(ctx context.Context, productID string) (StockItem, error) {
	var item StockItem
	row := r.pool.QueryRow(ctx, `SELECT product_id, available FROM inventory_stock WHERE product_id=$1`, productID)
	if err := row.Scan(&item.ProductID, &item.Available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrUnknownProduct
		}
		return StockItem{}, mapPgError(err, "select stock "+productID)
	}
	return item, nil
}

func (r *PostgresRepository) SetAvailable(ctx context.Context, productID string, available int) error {
	if productID == "" || available < 0 || available > MaxQuantity {
		return ErrInvalidQuantity
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO inventory_stock(product_id, available)
		VALUES($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET available=EXCLUDED.available, updated_at=now()
	`, productID, available)
	if err != nil {
		return mapPgError(err, "set available "+productID)
	}
	return nil
}

func (r *PostgresRepository) TryDecrement(ctx context.Context, productID string, quantity int) (int, error) {
	if !ValidQuantity(quantity) {
		return 0, ErrInvalidQuantity
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	for {
		var left int
		err := r.pool.QueryRow(ctx, `
			UPDATE inventory_stock
			SET available = available - $2, updated_at=now()
			WHERE product_id=$1 AND available >= $2
			RETURNING available
		`, productID, quantity).Scan(&left)
		if err == nil {
			return left, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, mapPgError(err, "decrement "+productID)
		}

		// Nothing matched: either the product is missing or it is short.
		item, err := r.Get(ctx, productID)
		if err != nil {
			return 0, err
		}
		if item.Available < quantity {
			return item.Available, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: item.Available}
		}
		// Replenished between the two statements; try the update again.
		if err := ctx.Err(); err != nil {
			return 0, mapPgError(err, "decrement "+productID)
		}
	}
}

func (r *PostgresRepository) Replenish(ctx context.Context, productID string, quantity int) (int, error) {
	if !ValidQuantity(quantity) {
		return 0, ErrInvalidQuantity
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var total int
	err := r.pool.QueryRow(ctx, `
		UPDATE inventory_stock
		SET available = available + $2, updated_at=now()
		WHERE product_id=$1
		RETURNING available
	`, productID, quantity).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUnknownProduct
		}
		return 0, mapPgError(err, "replenish "+productID)
	}
	return total, nil
}

// Reserve locks every referenced row in product id order (SELECT ... FOR
// UPDATE), checks all of them and only then decrements. If any line is short
// or unknown the transaction is rolled back and nothing changes.
func (r *PostgresRepository) Reserve(ctx context.Context, orderID string, lines []Line) (ReserveResult, error) {
	lines = Normalize(lines)
	if err := checkLines(lines); err != nil {
		return ReserveResult{}, err
	}
	res := ReserveResult{}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, mapPgError(err, "begin reserve")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if r.lockWait > 0 {
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", r.lockWait.Milliseconds())); err != nil {
			return res, mapPgError(err, "set lock_timeout")
		}
	}

	res, err = r.reserveWithTx(ctx, tx, lines)
	if err != nil {
		return ReserveResult{}, err
	}
	if !res.OK() {
		return res, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, mapPgError(err, "commit reserve "+orderID)
	}
	return res, nil
}

func (r *PostgresRepository) reserveWithTx(ctx context.Context, tx pgx.Tx, lines []Line) (ReserveResult, error) {
	res := ReserveResult{}

	for _, line := range lines {
		var available int
		err := tx.QueryRow(ctx, `
			SELECT available
			FROM inventory_stock
			WHERE product_id=$1
			FOR UPDATE
		`, line.ProductID).Scan(&available)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				res.Unknown = append(res.Unknown, line.ProductID)
				continue
			}
			return res, mapPgError(err, "lock "+line.ProductID)
		}
		if available < line.Quantity {
			res.Depleted = append(res.Depleted, DepletedLine{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			})
		}
	}

	if !res.OK() {
		return res, nil
	}

	for _, line := range lines {
		_, err := tx.Exec(ctx, `
			UPDATE inventory_stock
			SET available = available - $2, updated_at=now()
			WHERE product_id=$1
		`, line.ProductID, line.Quantity)
		if err != nil {
			return ReserveResult{}, mapPgError(err, "decrement "+line.ProductID)
		}
		res.Reserved = append(res.Reserved, line)
	}

	return res, nil
}

// Postgres error codes that mean "try again later" rather than a fault.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"

	// The stock would leave the range of the available column.
	pgNumericOutOfRange = "22003"
	pgCheckViolation    = "23514"
)

func mapPgError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrBusy, op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return errors.Wrap(ErrBusy, op)
		case pgNumericOutOfRange, pgCheckViolation:
			return errors.Wrap(ErrInvalidQuantity, op)
		}
	}
	return errors.Wrap(err, op)
}
