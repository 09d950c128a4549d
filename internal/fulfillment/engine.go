// Package fulfillment turns an order into stock decrements. Each order id is
// processed at most once and an order either takes every line's stock or
// leaves the ledger untouched.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/keylock"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/metrics"
)

// Notifier is told about every order that reached a terminal outcome in
// this process. Duplicates and BUSY rejections are not reported.
type Notifier interface {
	OrderProcessed(ctx context.Context, order Order, result Result)
}

// IDGenerator names orders submitted without an id.
type IDGenerator func() (string, error)

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type Engine struct {
	ledger    inventory.Ledger
	reserver  inventory.Reserver
	guard     *dedup.Guard[Result]
	locks     *keylock.Table
	log       zerolog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	notifiers []Notifier
	newID     IDGenerator
	now       func() time.Time
}

type Option func(*Engine)

func WithGuard(g *dedup.Guard[Result]) Option { return func(e *Engine) { e.guard = g } }

// WithLockWait bounds how long an order waits for product locks before it is
// rejected as BUSY. Zero leaves only the caller's context in charge.
func WithLockWait(d time.Duration) Option { return func(e *Engine) { e.locks = keylock.New(d) } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

func WithIDGenerator(g IDGenerator) Option { return func(e *Engine) { e.newID = g } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(ledger inventory.Ledger, opts ...Option) *Engine {
	e := &Engine{
		ledger:  ledger,
		guard:   dedup.NewGuard[Result](),
		locks:   keylock.New(2 * time.Second),
		log:     zerolog.Nop(),
		metrics: metrics.New(nil),
		tracer:  otel.Tracer("stock-engine/fulfillment"),
		newID:   newUUIDv7,
		now:     time.Now,
	}
	// Ledgers that reserve atomically do their own multi-key locking.
	if r, ok := ledger.(inventory.Reserver); ok {
		e.reserver = r
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit processes order once. Rejections are results, not errors; an error
// means the outcome is unknown and nothing was recorded for the order id.
func (e *Engine) Submit(ctx context.Context, order Order) (Result, error) {
	if order.OrderID == "" {
		id, err := e.newID()
		if err != nil {
			return Result{}, fmt.Errorf("generate order id: %w", err)
		}
		order.OrderID = id
	}

	ctx, span := e.tracer.Start(ctx, "fulfillment.Submit", trace.WithAttributes(
		attribute.String("order.id", order.OrderID),
		attribute.Int("order.items", len(order.Items)),
	))
	defer span.End()

	log := e.log.With().Str("order_id", order.OrderID).Logger()

	ticket, err := e.guard.RegisterIfNew(ctx, order.OrderID)
	if err != nil {
		if errors.Is(err, dedup.ErrPending) {
			res := e.busy(order)
			e.observe(span, res)
			return res, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "register order")
		return Result{}, err
	}
	if !ticket.Accepted {
		prior := ticket.Prior
		res := Result{
			OrderID:     order.OrderID,
			Status:      StatusDuplicate,
			Reason:      ReasonDuplicate,
			Original:    &prior,
			ProcessedAt: e.now(),
		}
		log.Debug().Str("original_status", string(prior.Status)).Msg("duplicate order")
		e.observe(span, res)
		return res, nil
	}

	res, err := e.process(ctx, order)
	if err != nil {
		e.guard.Abandon(order.OrderID)
		log.Error().Err(err).Msg("order processing failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "process order")
		return Result{}, err
	}
	if res.Reason == ReasonBusy {
		e.guard.Abandon(order.OrderID)
		e.observe(span, res)
		return res, nil
	}

	if err := e.guard.Complete(context.WithoutCancel(ctx), order.OrderID, res); err != nil {
		log.Error().Err(err).Msg("persist order outcome")
	}
	log.Info().
		Str("status", string(res.Status)).
		Str("reason", string(res.Reason)).
		Str("product_id", res.ProductID).
		Msg("order processed")

	e.observe(span, res)
	for _, n := range e.notifiers {
		n.OrderProcessed(context.WithoutCancel(ctx), order, res)
	}
	return res, nil
}

func (e *Engine) process(ctx context.Context, order Order) (Result, error) {
	if bad, ok := validate(order.Items); !ok {
		return e.reject(order, ReasonInvalidQuantity, bad), nil
	}
	lines := inventory.Normalize(order.Items)
	if bad, ok := validate(lines); !ok {
		return e.reject(order, ReasonInvalidQuantity, bad), nil
	}

	if e.reserver != nil && len(lines) > 1 {
		return e.reserve(ctx, order, lines)
	}
	if e.reserver != nil {
		return e.decrement(ctx, order, lines)
	}

	start := time.Now()
	release, err := e.locks.Acquire(ctx, productIDs(lines)...)
	e.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return e.busy(order), nil
	}
	defer release()
	return e.decrement(ctx, order, lines)
}

// decrement takes each line in product order. When a line fails, the lines
// already taken are put back before the order is rejected.
func (e *Engine) decrement(ctx context.Context, order Order, lines []inventory.Line) (Result, error) {
	taken := make([]inventory.Line, 0, len(lines))
	for _, line := range lines {
		if _, err := e.ledger.TryDecrement(ctx, line.ProductID, line.Quantity); err != nil {
			if cerr := e.compensate(ctx, order.OrderID, taken); cerr != nil {
				return Result{}, cerr
			}
			return e.classify(order, line.ProductID, err)
		}
		taken = append(taken, line)
	}
	return e.commit(order, lines), nil
}

func (e *Engine) compensate(ctx context.Context, orderID string, taken []inventory.Line) error {
	if len(taken) == 0 {
		return nil
	}
	e.metrics.ObserveCompensation()
	ctx = context.WithoutCancel(ctx)

	var failed []error
	for _, line := range taken {
		if _, err := e.ledger.Replenish(ctx, line.ProductID, line.Quantity); err != nil {
			e.log.Error().Err(err).
				Str("order_id", orderID).
				Str("product_id", line.ProductID).
				Int("quantity", line.Quantity).
				Msg("compensation failed, stock not restored")
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("compensate order %s: %w", orderID, errors.Join(failed...))
	}
	return nil
}

func (e *Engine) reserve(ctx context.Context, order Order, lines []inventory.Line) (Result, error) {
	rr, err := e.reserver.Reserve(ctx, order.OrderID, lines)
	if err != nil {
		return e.classify(order, "", err)
	}
	if rr.OK() {
		return e.commit(order, rr.Reserved), nil
	}

	unknown := make(map[string]struct{}, len(rr.Unknown))
	for _, id := range rr.Unknown {
		unknown[id] = struct{}{}
	}
	depleted := make(map[string]inventory.DepletedLine, len(rr.Depleted))
	for _, d := range rr.Depleted {
		depleted[d.ProductID] = d
	}
	// Report the first failing line in product order, as the locked path does.
	for _, line := range lines {
		if _, ok := unknown[line.ProductID]; ok {
			return e.reject(order, ReasonUnknownProduct, line.ProductID), nil
		}
		if d, ok := depleted[line.ProductID]; ok {
			res := e.reject(order, ReasonInsufficientStock, line.ProductID)
			res.Shortfall = &d
			return res, nil
		}
	}
	return Result{}, fmt.Errorf("reserve %s: rejected without a failing line", order.OrderID)
}

func (e *Engine) classify(order Order, productID string, err error) (Result, error) {
	var short *inventory.InsufficientStockError
	switch {
	case errors.As(err, &short):
		res := e.reject(order, ReasonInsufficientStock, short.ProductID)
		res.Shortfall = &inventory.DepletedLine{
			ProductID: short.ProductID,
			Requested: short.Requested,
			Available: short.Available,
		}
		return res, nil
	case errors.Is(err, inventory.ErrUnknownProduct):
		return e.reject(order, ReasonUnknownProduct, productID), nil
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return e.reject(order, ReasonInvalidQuantity, productID), nil
	case isBusy(err):
		return e.busy(order), nil
	default:
		return Result{}, err
	}
}

func isBusy(err error) bool {
	return errors.Is(err, inventory.ErrBusy) ||
		errors.Is(err, keylock.ErrTimeout) ||
		errors.Is(err, dedup.ErrPending) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) commit(order Order, lines []inventory.Line) Result {
	return Result{
		OrderID:     order.OrderID,
		Status:      StatusCommitted,
		Items:       lines,
		ProcessedAt: e.now(),
	}
}

func (e *Engine) reject(order Order, reason Reason, productID string) Result {
	return Result{
		OrderID:     order.OrderID,
		Status:      StatusRejected,
		Reason:      reason,
		ProductID:   productID,
		ProcessedAt: e.now(),
	}
}

func (e *Engine) busy(order Order) Result {
	res := e.reject(order, ReasonBusy, "")
	res.Retryable = true
	return res
}

func (e *Engine) observe(span trace.Span, res Result) {
	e.metrics.ObserveOrder(string(res.Status), string(res.Reason))
	span.SetAttributes(
		attribute.String("order.status", string(res.Status)),
		attribute.String("order.reason", string(res.Reason)),
	)
}

// validate reports the offending product id when a line is malformed. It runs
// on the raw items and again on the merged lines.
func validate(items []inventory.Line) (string, bool) {
	if len(items) == 0 {
		return "", false
	}
	for _, item := range items {
		if item.ProductID == "" || !inventory.ValidQuantity(item.Quantity) {
			return item.ProductID, false
		}
	}
	return "", true
}

func productIDs(lines []inventory.Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}
